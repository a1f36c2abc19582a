package extractors

import (
	"context"
	"sort"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/lib/pq"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/bloxapp/chain-extract/pkg/storage"
)

const DailyBlocksName = "daily_blocks"

const dayLayout = "2006-01-02"

// DailyBlock aggregates the blocks of one UTC day.
type DailyBlock struct {
	Day                  time.Time `boil:"day"                    json:"day"`
	Blocks               int64     `boil:"blocks"                 json:"blocks"`
	TotalIntervalSeconds int64     `boil:"total_interval_seconds" json:"total_interval_seconds"`
}

// DailyBlocks counts blocks and sums their intervals per day. Days touched by
// a batch are recomputed from scratch, so reorganized blocks drop out.
type DailyBlocks struct{}

func NewDailyBlocks() *DailyBlocks {
	return &DailyBlocks{}
}

func (*DailyBlocks) Name() string {
	return DailyBlocksName
}

func (*DailyBlocks) Dependencies() []string {
	return []string{BlockIntervalsName}
}

func (*DailyBlocks) Migrate(ctx context.Context, exec boil.ContextExecutor) error {
	_, err := exec.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS daily_blocks (
			day DATE PRIMARY KEY,
			blocks BIGINT NOT NULL,
			total_interval_seconds BIGINT NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "extractors: unable to create daily_blocks")
	}
	return nil
}

func (e *DailyBlocks) Transform(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) error {
	_, err := queries.Raw(`
		INSERT INTO daily_blocks (day, blocks, total_interval_seconds)
		SELECT (b.time AT TIME ZONE 'UTC')::date, COUNT(*), SUM(i.seconds)
		FROM blocks b
		JOIN block_intervals i ON i.block_number = b.number
		WHERE (b.time AT TIME ZONE 'UTC')::date = ANY($1::date[])
		GROUP BY 1
		ON CONFLICT (day) DO UPDATE SET
			blocks = EXCLUDED.blocks,
			total_interval_seconds = EXCLUDED.total_interval_seconds`,
		pq.Array(days(blocks)),
	).ExecContext(ctx, tx)
	if err != nil {
		return errors.Wrap(err, "extractors: unable to upsert daily_blocks")
	}
	return nil
}

func (e *DailyBlocks) Read(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) (any, error) {
	var rows []*DailyBlock
	err := queries.Raw(`
		SELECT day, blocks, total_interval_seconds
		FROM daily_blocks
		WHERE day = ANY($1::date[])
		ORDER BY day`,
		pq.Array(days(blocks)),
	).Bind(ctx, tx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "extractors: unable to read daily_blocks")
	}
	return rows, nil
}

// days returns the distinct UTC days of blocks, ascending.
func days(blocks []storage.Block) []string {
	seen := map[string]bool{}
	var out []string
	for _, block := range blocks {
		day := block.Time.UTC().Format(dayLayout)
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	sort.Strings(out)
	return out
}
