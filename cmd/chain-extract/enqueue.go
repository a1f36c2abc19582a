package main

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/bloxapp/chain-extract/pkg/extract"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

type EnqueueCmd struct {
	From  int64 `default:"0"     help:"Lowest block number to enqueue."`
	To    int64 `                help:"Highest block number to enqueue. Defaults to the highest block."`
	Chunk int64 `default:"10000" help:"Number of blocks to enqueue per statement."`
}

func (c *EnqueueCmd) Run(
	logger *zap.Logger,
	store *storage.Postgres,
	registry *extract.Registry,
) error {
	ctx := context.Background()
	if c.Chunk < 1 {
		return fmt.Errorf("--chunk must be positive")
	}

	to := c.To
	if to == 0 {
		highest, err := store.HighestBlock(ctx)
		if err != nil {
			return fmt.Errorf("failed to get highest block: %w", err)
		}
		to = highest
	}
	if to < c.From {
		return fmt.Errorf("--to (%d) is below --from (%d)", to, c.From)
	}

	logger.Info(
		"Enqueueing blocks",
		zap.Int64("from_block", c.From),
		zap.Int64("to_block", to),
		zap.Strings("extractors", registry.Names()),
	)
	bar := progressbar.Default(to - c.From + 1)
	defer bar.Clear()
	var total int64
	for from := c.From; from <= to; from += c.Chunk {
		chunkTo := from + c.Chunk - 1
		if chunkTo > to {
			chunkTo = to
		}
		n, err := store.EnqueueRange(ctx, registry.Names(), from, chunkTo)
		if err != nil {
			return fmt.Errorf("failed to enqueue blocks %d-%d: %w", from, chunkTo, err)
		}
		total += n
		bar.Add64(chunkTo - from + 1)
	}
	bar.Finish()
	logger.Info("Enqueued blocks", zap.Int64("records", total))
	return nil
}
