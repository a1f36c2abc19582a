// Package extract schedules registered extractors over pending blocks and
// keeps their side effects consistent with the extraction status records.
package extract

import (
	"context"

	"github.com/volatiletech/sqlboiler/v4/boil"

	"github.com/bloxapp/chain-extract/pkg/storage"
)

// Extractor derives a dataset from raw blocks.
//
// Transform must be idempotent within a transaction and must handle several
// consecutive blocks at once. All writes must go through tx so that they
// commit together with the status records of blocks.
type Extractor interface {
	// Name uniquely identifies the extractor. It's stored in the status
	// records and must not change between runs.
	Name() string

	// Transform writes the derived data of blocks.
	Transform(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) error

	// Read returns the derived data of blocks.
	Read(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) (any, error)
}

// Dependent is implemented by extractors which consume the output of other
// extractors. A block is only handed to a Dependent once every dependency is
// done with it.
type Dependent interface {
	Dependencies() []string
}

// PerfBoostDisabler is implemented by extractors which must always process
// blocks one at a time.
type PerfBoostDisabler interface {
	DisablePerfBoost() bool
}

// Migrator is implemented by extractors which own tables.
type Migrator interface {
	Migrate(ctx context.Context, exec boil.ContextExecutor) error
}
