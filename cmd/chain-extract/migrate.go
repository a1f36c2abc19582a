package main

import (
	"context"
	"fmt"

	"github.com/volatiletech/sqlboiler/v4/boil"
	"go.uber.org/zap"

	"github.com/bloxapp/chain-extract/pkg/extract"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

type MigrateCmd struct {
	Fresh bool `env:"FRESH" help:"Delete all data and start from scratch."`
}

func (c *MigrateCmd) Run(
	logger *zap.Logger,
	store *storage.Postgres,
	registry *extract.Registry,
) error {
	return migrate(context.Background(), logger, store, registry, c.Fresh)
}

func migrate(
	ctx context.Context,
	logger *zap.Logger,
	store *storage.Postgres,
	registry *extract.Registry,
	fresh bool,
) error {
	// Start from scratch, if requested.
	if fresh {
		if err := store.Drop(ctx); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
		logger.Info("Dropped PostgreSQL schema")
	}

	// Create tables if they don't exist.
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	err := store.InTx(ctx, func(tx boil.ContextExecutor) error {
		return registry.Migrate(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("failed to migrate extractors: %w", err)
	}
	logger.Info("Applied PostgreSQL schema", zap.Strings("extractors", registry.Names()))
	return nil
}
