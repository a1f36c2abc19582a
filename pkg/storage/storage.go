// Package storage persists extraction status records and exposes the raw
// blocks they refer to.
package storage

import (
	"context"
	_ "embed"
	"time"

	"github.com/volatiletech/sqlboiler/v4/boil"
)

//go:embed schema.sql
var Schema string

// Status is the state of an extraction status record. The values are stored
// verbatim in the extraction_status.status column.
type Status string

const (
	StatusNew   Status = "new"
	StatusDone  Status = "done"
	StatusError Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// Block is a raw block as seen by extractors.
type Block struct {
	Number   int64
	ID       string
	ParentID string
	Time     time.Time

	// StatusID is the id of the status record this block was fetched through.
	// Zero for blocks that were not fetched by NextBatch.
	StatusID int64
}

// Condition requires the status record of another extractor for the same
// block to be in the given status.
type Condition struct {
	Extractor string
	Status    Status
}

// Store is the status store consumed by the extraction scheduler.
type Store interface {
	// Enqueue creates "new" status records for every block at or above
	// fromNumber and every given extractor. Existing records are left as is.
	Enqueue(ctx context.Context, extractors []string, fromNumber int64) (int64, error)

	// NextBatch returns up to limit blocks, ascending by number, whose status
	// for extractor is "new" and which satisfy all conditions.
	NextBatch(ctx context.Context, extractor string, conditions []Condition, limit int) ([]Block, error)

	// InTx runs fn within a transaction, committing if it returns nil.
	InTx(ctx context.Context, fn func(tx boil.ContextExecutor) error) error

	// Advance moves the status records of blocks from "new" to status.
	// Records no longer "new" are left untouched and reported as a conflict.
	Advance(ctx context.Context, exec boil.ContextExecutor, blocks []Block, status Status) error

	// HighestBlock returns the highest block number, or zero if there are no
	// blocks.
	HighestBlock(ctx context.Context) (int64, error)
}
