package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/volatiletech/sqlboiler/v4/boil"
	"go.uber.org/zap"

	"github.com/bloxapp/chain-extract/pkg/metrics"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

type applier struct {
	store   storage.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// apply runs the extractor over one sub-batch and commits its writes together
// with marking the blocks as done. Extractor failures are recorded in the
// status records and only failures to record them are returned.
func (a *applier) apply(ctx context.Context, d *Descriptor, blocks []storage.Block) error {
	name := d.Name()
	from, to := blocks[0].Number, blocks[len(blocks)-1].Number
	logger := a.logger.With(
		zap.String("extractor", name),
		zap.Int64("from_block", from),
		zap.Int64("to_block", to),
		zap.Int("blocks", len(blocks)),
	)
	start := time.Now()

	err := a.store.InTx(ctx, func(tx boil.ContextExecutor) error {
		if err := d.Extractor.Transform(ctx, tx, blocks); err != nil {
			return fmt.Errorf("failed to transform: %w", err)
		}
		if err := a.store.Advance(ctx, tx, blocks, storage.StatusDone); err != nil {
			return fmt.Errorf("failed to mark as done: %w", err)
		}
		return nil
	})
	if err == nil {
		a.metrics.ObserveSubBatch(name, metrics.OutcomeDone, len(blocks), time.Since(start))
		a.metrics.ObserveDoneBlock(name, to)
		logger.Debug("Applied sub-batch", zap.Duration("took", time.Since(start)))
		return nil
	}

	// Shutting down, the blocks stay pending.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.metrics.FailuresTotal.WithLabelValues(name, failureKind(err)).Inc()
	if recoverable(err) {
		a.metrics.ObserveSubBatch(name, metrics.OutcomeRetry, len(blocks), time.Since(start))
		logger.Warn("Sub-batch failed, will retry", zap.Error(err))
		return nil
	}

	logger.Error("Sub-batch failed, marking as errored", zap.Error(err))
	markErr := a.store.InTx(ctx, func(tx boil.ContextExecutor) error {
		return a.store.Advance(ctx, tx, blocks, storage.StatusError)
	})
	if markErr != nil {
		switch storage.KindOf(markErr) {
		case storage.KindForeignKey, storage.KindConflict:
			// The records were finished by another attempt or deleted along
			// with their blocks by a reorg. Either way there's nothing to mark.
			a.metrics.ObserveSubBatch(name, metrics.OutcomeInconsistent, len(blocks), time.Since(start))
			logger.Warn("Sub-batch is no longer pending, not marking as errored", zap.Error(markErr))
			return nil
		}
		return fmt.Errorf(
			"failed to mark blocks %d-%d of %s as errored: %w",
			from, to, name, markErr,
		)
	}
	a.metrics.ObserveSubBatch(name, metrics.OutcomeError, len(blocks), time.Since(start))
	return nil
}
