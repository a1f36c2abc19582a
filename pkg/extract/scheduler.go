package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/bloxapp/chain-extract/pkg/metrics"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

type Config struct {
	// BatchSize is the maximum number of blocks fetched per extractor and pass.
	BatchSize int

	// IdleDelay is how long to sleep after a pass without any work.
	IdleDelay time.Duration

	// ReorgMargin is the distance from the tip within which blocks are
	// processed one at a time.
	ReorgMargin int

	// MaxConcurrency limits the number of sub-batches applied at once.
	// Zero leaves the limit to the database connection pool.
	MaxConcurrency int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		IdleDelay:   time.Second,
		ReorgMargin: DefaultReorgMargin,
	}
}

func (c Config) validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.IdleDelay < 0 {
		return fmt.Errorf("idle delay must not be negative, got %s", c.IdleDelay)
	}
	if c.ReorgMargin < 0 {
		return fmt.Errorf("reorg margin must not be negative, got %d", c.ReorgMargin)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	return nil
}

// Scheduler repeatedly runs every registered extractor over its pending
// blocks.
type Scheduler struct {
	store    storage.Store
	registry *Registry
	network  storage.NetworkState
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	applier  *applier

	// watermark is the highest block number seen by the last enqueue, or -1
	// before the first one.
	watermark int64
}

func NewScheduler(
	store storage.Store,
	registry *Registry,
	network storage.NetworkState,
	config Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*Scheduler, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(registry.Descriptors()) == 0 {
		return nil, errors.New("no extractors registered")
	}
	for _, name := range registry.Names() {
		m.InitExtractor(name)
	}
	return &Scheduler{
		store:     store,
		registry:  registry,
		network:   network,
		config:    config,
		logger:    logger,
		metrics:   m,
		applier:   &applier{store: store, logger: logger, metrics: m},
		watermark: -1,
	}, nil
}

// Run performs passes until ctx is done or a pass fails. Sleeps for the idle
// delay after every pass that found no work.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(
		"Starting scheduler",
		zap.String("network", s.network.NetworkName),
		zap.Int64("tip_height", s.network.TipHeight),
		zap.Strings("extractors", s.registry.Names()),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("reorg_margin", s.config.ReorgMargin),
	)
	for {
		worked, err := s.Pass(ctx)
		if err != nil {
			return err
		}
		if worked {
			continue
		}
		s.logger.Debug("No pending blocks, idling", zap.Duration("delay", s.config.IdleDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.IdleDelay):
		}
	}
}

// Pass enqueues newly arrived blocks and then gives every registered
// extractor, in registration order, one batch of pending blocks. Reports
// whether any extractor found work.
func (s *Scheduler) Pass(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.enqueue(ctx); err != nil {
		return false, err
	}

	worked := false
	for _, d := range s.registry.Descriptors() {
		n, err := s.step(ctx, d)
		if err != nil {
			return worked, err
		}
		if n > 0 {
			worked = true
		}
	}
	if worked {
		s.metrics.PassesTotal.WithLabelValues("draining").Inc()
	} else {
		s.metrics.PassesTotal.WithLabelValues("idle").Inc()
	}
	return worked, nil
}

// enqueue creates status records for blocks which arrived since the last
// pass. Blocks within the reorg margin below the previous watermark are
// enqueued again, since a reorg may have replaced them.
func (s *Scheduler) enqueue(ctx context.Context) error {
	highest, err := s.store.HighestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get highest block: %w", err)
	}
	var from int64
	if s.watermark >= 0 {
		from = s.watermark - int64(s.config.ReorgMargin)
		if from < 0 {
			from = 0
		}
	}
	n, err := s.store.Enqueue(ctx, s.registry.Names(), from)
	if err != nil {
		return fmt.Errorf("failed to enqueue blocks from %d: %w", from, err)
	}
	if n > 0 {
		s.logger.Debug("Enqueued blocks", zap.Int64("from_block", from), zap.Int64("records", n))
	}
	s.watermark = highest
	return nil
}

// step fetches one batch of pending blocks for d and applies its sub-batches
// concurrently. Returns the number of blocks fetched.
func (s *Scheduler) step(ctx context.Context, d *Descriptor) (int, error) {
	name := d.Name()
	blocks, err := s.store.NextBatch(ctx, name, d.Conditions, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending blocks of %s: %w", name, err)
	}
	if len(blocks) == 0 {
		return 0, nil
	}

	groups := Group(blocks, s.network.TipHeight, s.config.BatchSize, s.config.ReorgMargin, d.DisablePerfBoost)
	path := metrics.PathGrouped
	if singletons(blocks[0].Number, s.network.TipHeight, s.config.BatchSize, s.config.ReorgMargin, d.DisablePerfBoost) {
		path = metrics.PathSingleton
	}
	s.metrics.SubBatchesTotal.WithLabelValues(name, path).Add(float64(len(groups)))
	s.logger.Debug(
		"Fetched pending blocks",
		zap.String("extractor", name),
		zap.Int64("from_block", blocks[0].Number),
		zap.Int64("to_block", blocks[len(blocks)-1].Number),
		zap.Int("blocks", len(blocks)),
		zap.Int("sub_batches", len(groups)),
		zap.String("path", path),
	)

	// Sub-batches are independent, so one failing doesn't cancel the others.
	p := pool.New().WithErrors().WithContext(ctx)
	if s.config.MaxConcurrency > 0 {
		p = p.WithMaxGoroutines(s.config.MaxConcurrency)
	}
	for _, group := range groups {
		group := group
		p.Go(func(ctx context.Context) error {
			return s.applier.apply(ctx, d, group)
		})
	}
	if err := p.Wait(); err != nil {
		return len(blocks), err
	}
	return len(blocks), nil
}
