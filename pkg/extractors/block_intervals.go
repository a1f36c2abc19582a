package extractors

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/lib/pq"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/bloxapp/chain-extract/pkg/extract"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

const BlockIntervalsName = "block_intervals"

// BlockInterval is the time elapsed between a block and its parent.
type BlockInterval struct {
	BlockNumber int64 `boil:"block_number" json:"block_number"`
	Seconds     int64 `boil:"seconds"      json:"seconds"`
}

// BlockIntervals records the seconds elapsed since the parent of every block.
// The first ingested block has an interval of zero.
type BlockIntervals struct{}

func NewBlockIntervals() *BlockIntervals {
	return &BlockIntervals{}
}

func (*BlockIntervals) Name() string {
	return BlockIntervalsName
}

// DisablePerfBoost is true so that a block whose parent hasn't settled only
// holds back itself.
func (*BlockIntervals) DisablePerfBoost() bool {
	return true
}

func (*BlockIntervals) Migrate(ctx context.Context, exec boil.ContextExecutor) error {
	_, err := exec.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS block_intervals (
			block_number BIGINT PRIMARY KEY REFERENCES blocks(number) ON DELETE CASCADE,
			seconds BIGINT NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "extractors: unable to create block_intervals")
	}
	return nil
}

type previousBlock struct {
	Number int64     `boil:"number"`
	ID     string    `boil:"id"`
	Time   time.Time `boil:"time"`
}

func (e *BlockIntervals) Transform(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) error {
	for _, block := range blocks {
		var previous []*previousBlock
		err := queries.Raw(`
			SELECT number, id, time
			FROM blocks
			WHERE number < $1
			ORDER BY number DESC
			LIMIT 1`,
			block.Number,
		).Bind(ctx, tx, &previous)
		if err != nil {
			return errors.Wrapf(err, "extractors: unable to get block before %d", block.Number)
		}
		var prev *previousBlock
		if len(previous) > 0 {
			prev = previous[0]
		}
		seconds, err := intervalSeconds(block, prev)
		if err != nil {
			return err
		}
		_, err = queries.Raw(`
			INSERT INTO block_intervals (block_number, seconds)
			VALUES ($1, $2)
			ON CONFLICT (block_number) DO UPDATE SET seconds = EXCLUDED.seconds`,
			block.Number, seconds,
		).ExecContext(ctx, tx)
		if err != nil {
			return errors.Wrapf(err, "extractors: unable to insert interval of block %d", block.Number)
		}
	}
	return nil
}

// intervalSeconds returns the seconds between block and prev, the highest
// block below it. Gaps and parent mismatches mean ingestion hasn't settled
// yet, so they're reported as retryable.
func intervalSeconds(block storage.Block, prev *previousBlock) (int64, error) {
	if prev == nil {
		return 0, nil
	}
	if prev.Number != block.Number-1 {
		return 0, extract.Retryable(fmt.Errorf("block %d is missing", block.Number-1))
	}
	if block.ParentID != "" && prev.ID != block.ParentID {
		return 0, extract.Retryable(fmt.Errorf(
			"parent of block %d is %s, but block %d is %s",
			block.Number, block.ParentID, prev.Number, prev.ID,
		))
	}
	seconds := int64(block.Time.Sub(prev.Time) / time.Second)
	if seconds < 0 {
		return 0, fmt.Errorf("block %d is older than its parent", block.Number)
	}
	return seconds, nil
}

func (e *BlockIntervals) Read(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) (any, error) {
	var intervals []*BlockInterval
	err := queries.Raw(`
		SELECT block_number, seconds
		FROM block_intervals
		WHERE block_number = ANY($1)
		ORDER BY block_number`,
		pq.Array(blockNumbers(blocks)),
	).Bind(ctx, tx, &intervals)
	if err != nil {
		return nil, errors.Wrap(err, "extractors: unable to read block_intervals")
	}
	return intervals, nil
}
