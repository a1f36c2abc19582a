// Package chain reads the chain tip from an Ethereum execution node.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/bloxapp/chain-extract/pkg/storage"
)

var _ storage.TipProvider = (*ExecutionTip)(nil)

// ExecutionTip is a storage.TipProvider backed by an execution node.
type ExecutionTip struct {
	client *ethclient.Client
}

// DialExecutionTip connects to the execution node at endpoint. HTTP endpoints
// are retried on transient failures.
func DialExecutionTip(ctx context.Context, endpoint string) (*ExecutionTip, error) {
	rpcClient, err := rpc.DialOptions(
		ctx,
		endpoint,
		rpc.WithHTTPClient(NewRetryingHTTPClient(10, 2*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return &ExecutionTip{client: ethclient.NewClient(rpcClient)}, nil
}

func (t *ExecutionTip) TipHeight(ctx context.Context) (int64, error) {
	n, err := t.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return int64(n), nil
}

func (t *ExecutionTip) Close() {
	t.client.Close()
}
