package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/bloxapp/chain-extract/pkg/storage"
)

type StatusCmd struct {
	Out string `help:"Path to write the summary to. Defaults to stdout."`
}

func (c *StatusCmd) Run(logger *zap.Logger, store *storage.Postgres) error {
	ctx := context.Background()
	summaries, err := store.Summary(ctx)
	if err != nil {
		return fmt.Errorf("failed to summarize status: %w", err)
	}
	for _, s := range summaries {
		if s.Error > 0 {
			logger.Warn(
				"Extractor has errored blocks",
				zap.String("extractor", s.Extractor),
				zap.Int64("blocks", s.Error),
				zap.Int64("lowest_block", s.LowestError.Int64),
			)
		}
	}

	out := io.Writer(os.Stdout)
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			return fmt.Errorf("failed to create %q: %w", c.Out, err)
		}
		defer f.Close()
		out = f
	}
	if err := writeTSV(summaries, out); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func writeTSV(data any, out io.Writer) error {
	w := csv.NewWriter(out)
	w.Comma = '\t'
	return gocsv.MarshalCSV(data, gocsv.NewSafeCSVWriter(w))
}
