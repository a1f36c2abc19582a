package storage

import "context"

// NetworkState is a snapshot of the chain taken when the scheduler starts.
type NetworkState struct {
	NetworkName string
	TipHeight   int64
}

// TipProvider reports the latest known chain tip height.
type TipProvider interface {
	TipHeight(ctx context.Context) (int64, error)
}

// TipProviderFunc adapts a function to TipProvider.
type TipProviderFunc func(ctx context.Context) (int64, error)

func (f TipProviderFunc) TipHeight(ctx context.Context) (int64, error) {
	return f(ctx)
}

// TipHeight implements TipProvider with the highest ingested block.
func (p *Postgres) TipHeight(ctx context.Context) (int64, error) {
	return p.HighestBlock(ctx)
}

// LoadNetworkState reads the tip once from provider.
func LoadNetworkState(ctx context.Context, networkName string, provider TipProvider) (NetworkState, error) {
	tip, err := provider.TipHeight(ctx)
	if err != nil {
		return NetworkState{}, err
	}
	return NetworkState{NetworkName: networkName, TipHeight: tip}, nil
}
