package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/bloxapp/chain-extract/pkg/chain"
	"github.com/bloxapp/chain-extract/pkg/extract"
	"github.com/bloxapp/chain-extract/pkg/metrics"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

type RunCmd struct {
	BatchSize         int           `env:"BATCH_SIZE"         default:"100"  help:"Maximum number of blocks fetched per extractor and pass."`
	IdleDelay         time.Duration `env:"IDLE_DELAY"         default:"1s"   help:"How long to sleep when no extractor has pending blocks."`
	ReorgMargin       int           `env:"REORG_MARGIN"       default:"1000" help:"Distance from the tip within which blocks are processed one at a time."`
	MaxConcurrency    int           `env:"MAX_CONCURRENCY"    default:"0"    help:"Maximum number of sub-batches applied at once. Zero leaves it to the connection pool."`
	TipHeight         int64         `env:"TIP_HEIGHT"                        help:"Chain tip height. Defaults to the execution endpoint's, or else the highest block."`
	ExecutionEndpoint string        `env:"EXECUTION_ENDPOINT"                help:"RPC endpoint to an Ethereum execution node, used to read the chain tip."`
	MetricsAddr       string        `env:"METRICS_ADDR"                      help:"Address to serve Prometheus metrics on, for example :9090."`
	Fresh             bool          `env:"FRESH"                             help:"Delete all data and start from scratch."`
}

func (c *RunCmd) Run(
	logger *zap.Logger,
	globals *Globals,
	store *storage.Postgres,
	registry *extract.Registry,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(ctx, logger, store, registry, c.Fresh); err != nil {
		return err
	}

	// Read the chain tip once.
	provider, err := c.tipProvider(ctx, logger, store)
	if err != nil {
		return err
	}
	network, err := storage.LoadNetworkState(ctx, globals.Network, provider)
	if err != nil {
		return fmt.Errorf("failed to get chain tip: %w", err)
	}

	// Serve metrics.
	m := metrics.New()
	if c.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if err := m.Register(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: c.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", zap.Error(err))
				stop()
			}
		}()
		defer srv.Close()
		logger.Info("Serving metrics", zap.String("addr", c.MetricsAddr))
	}

	scheduler, err := extract.NewScheduler(
		store,
		registry,
		network,
		extract.Config{
			BatchSize:      c.BatchSize,
			IdleDelay:      c.IdleDelay,
			ReorgMargin:    c.ReorgMargin,
			MaxConcurrency: c.MaxConcurrency,
		},
		logger,
		m,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	err = scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Stopped")
		return nil
	}
	return err
}

func (c *RunCmd) tipProvider(
	ctx context.Context,
	logger *zap.Logger,
	store *storage.Postgres,
) (storage.TipProvider, error) {
	switch {
	case c.TipHeight > 0:
		return storage.TipProviderFunc(func(context.Context) (int64, error) {
			return c.TipHeight, nil
		}), nil
	case c.ExecutionEndpoint != "":
		tip, err := chain.DialExecutionTip(ctx, c.ExecutionEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to execution node: %w", err)
		}
		logger.Info("Connected to execution node", zap.String("endpoint", c.ExecutionEndpoint))
		// The tip is read once, so the client isn't needed afterwards.
		return storage.TipProviderFunc(func(ctx context.Context) (int64, error) {
			defer tip.Close()
			return tip.TipHeight(ctx)
		}), nil
	default:
		return store, nil
	}
}
