package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/volatiletech/sqlboiler/v4/boil"
	"go.uber.org/zap"

	"github.com/bloxapp/chain-extract/pkg/extract"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

type ReadCmd struct {
	Extractor string `help:"Name of the extractor."         required:""`
	From      int64  `help:"Lowest block number to read."   required:""`
	To        int64  `help:"Highest block number to read."  required:""`
}

func (c *ReadCmd) Run(
	logger *zap.Logger,
	store *storage.Postgres,
	registry *extract.Registry,
) error {
	ctx := context.Background()
	d, ok := registry.Get(c.Extractor)
	if !ok {
		return fmt.Errorf("unknown extractor %q (registered: %v)", c.Extractor, registry.Names())
	}
	if c.To < c.From {
		return fmt.Errorf("--to (%d) is below --from (%d)", c.To, c.From)
	}

	var result any
	err := store.InReadTx(ctx, func(tx boil.ContextExecutor) error {
		blocks, err := store.Blocks(ctx, tx, c.From, c.To)
		if err != nil {
			return err
		}
		logger.Debug("Reading blocks", zap.String("extractor", c.Extractor), zap.Int("blocks", len(blocks)))
		result, err = d.Extractor.Read(ctx, tx, blocks)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.Extractor, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
