package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/strmangle"
)

var _ Store = (*Postgres)(nil)

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB returns the underlying connection pool.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Migrate creates the blocks and extraction_status tables if they don't exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return errors.Wrap(err, "storage: unable to apply schema")
	}
	return nil
}

// Drop removes everything in the public schema.
func (p *Postgres) Drop(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DROP SCHEMA public CASCADE; CREATE SCHEMA public;"); err != nil {
		return errors.Wrap(err, "storage: unable to drop schema")
	}
	return nil
}

func (p *Postgres) Enqueue(ctx context.Context, extractors []string, fromNumber int64) (int64, error) {
	return p.EnqueueRange(ctx, extractors, fromNumber, math.MaxInt64)
}

// EnqueueRange creates "new" status records for blocks within [from, to] and
// every given extractor, ignoring records that already exist.
func (p *Postgres) EnqueueRange(ctx context.Context, extractors []string, from, to int64) (int64, error) {
	if len(extractors) == 0 {
		return 0, nil
	}
	result, err := queries.Raw(`
		INSERT INTO extraction_status (block_number, extractor)
		SELECT b.number, e.name
		FROM blocks b
		CROSS JOIN unnest($1::text[]) AS e(name)
		WHERE b.number BETWEEN $2 AND $3
		ON CONFLICT (block_number, extractor) DO NOTHING`,
		pq.Array(extractors), from, to,
	).ExecContext(ctx, p.db)
	if err != nil {
		return 0, errors.Wrap(classify(err), "storage: unable to enqueue extraction status")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "storage: unable to get rows affected by enqueue")
	}
	return n, nil
}

// EnqueueBlocks creates "new" status records for the given block numbers and
// extractors, ignoring records that already exist. Intended for ingestion
// processes that know exactly which blocks they have just written.
func (p *Postgres) EnqueueBlocks(ctx context.Context, extractors []string, numbers []int64) (int64, error) {
	query, args := enqueueBlocksQuery(extractors, numbers)
	if query == "" {
		return 0, nil
	}
	result, err := queries.Raw(query, args...).ExecContext(ctx, p.db)
	if err != nil {
		return 0, errors.Wrap(classify(err), "storage: unable to enqueue blocks")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "storage: unable to get rows affected by enqueue")
	}
	return n, nil
}

func enqueueBlocksQuery(extractors []string, numbers []int64) (string, []interface{}) {
	if len(extractors) == 0 || len(numbers) == 0 {
		return "", nil
	}
	args := make([]interface{}, 0, len(extractors)*len(numbers)*2)
	for _, number := range numbers {
		for _, extractor := range extractors {
			args = append(args, number, extractor)
		}
	}
	query := fmt.Sprintf(
		"INSERT INTO extraction_status (block_number, extractor) VALUES %s ON CONFLICT (block_number, extractor) DO NOTHING",
		strmangle.Placeholders(true, len(args), 1, 2),
	)
	return query, args
}

type blockRow struct {
	Number   int64       `boil:"number"`
	ID       string      `boil:"id"`
	ParentID null.String `boil:"parent_id"`
	Time     time.Time   `boil:"time"`
	StatusID int64       `boil:"status_id"`
}

func (r *blockRow) block() Block {
	return Block{
		Number:   r.Number,
		ID:       r.ID,
		ParentID: r.ParentID.String,
		Time:     r.Time,
		StatusID: r.StatusID,
	}
}

func (p *Postgres) NextBatch(
	ctx context.Context,
	extractor string,
	conditions []Condition,
	limit int,
) ([]Block, error) {
	if limit < 1 {
		return nil, fmt.Errorf("storage: limit must be positive, got %d", limit)
	}
	query, args := nextBatchQuery(extractor, conditions, limit)
	var rows []*blockRow
	if err := queries.Raw(query, args...).Bind(ctx, p.db, &rows); err != nil {
		return nil, errors.Wrapf(err, "storage: unable to fetch next batch for %s", extractor)
	}
	blocks := make([]Block, len(rows))
	for i, row := range rows {
		blocks[i] = row.block()
	}
	return blocks, nil
}

// nextBatchQuery builds the pending-work query for extractor. Every condition
// becomes an EXISTS clause against the status record of the same block.
func nextBatchQuery(extractor string, conditions []Condition, limit int) (string, []interface{}) {
	args := []interface{}{extractor, string(StatusNew)}
	var b strings.Builder
	b.WriteString(`SELECT b.number, b.id, b.parent_id, b.time, s.id AS status_id
FROM extraction_status s
JOIN blocks b ON b.number = s.block_number
WHERE s.extractor = $1 AND s.status = $2`)
	for i, cond := range conditions {
		args = append(args, cond.Extractor, string(cond.Status))
		fmt.Fprintf(&b, `
AND EXISTS (SELECT 1 FROM extraction_status d%[1]d WHERE d%[1]d.block_number = s.block_number AND d%[1]d.extractor = $%[2]d AND d%[1]d.status = $%[3]d)`,
			i, len(args)-1, len(args),
		)
	}
	args = append(args, limit)
	fmt.Fprintf(&b, `
ORDER BY s.block_number
LIMIT $%d`, len(args))
	return b.String(), args
}

func (p *Postgres) InTx(ctx context.Context, fn func(tx boil.ContextExecutor) error) error {
	return p.inTx(ctx, nil, fn)
}

// InReadTx runs fn within a read-only transaction that is always rolled back.
func (p *Postgres) InReadTx(ctx context.Context, fn func(tx boil.ContextExecutor) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return errors.Wrap(err, "storage: unable to begin read-only transaction")
	}
	defer tx.Rollback()
	return fn(tx)
}

func (p *Postgres) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx boil.ContextExecutor) error) error {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "storage: unable to begin transaction")
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(classify(err), "storage: unable to commit transaction")
	}
	return nil
}

func (p *Postgres) Advance(ctx context.Context, exec boil.ContextExecutor, blocks []Block, status Status) error {
	if status == StatusNew {
		return fmt.Errorf("storage: cannot advance status to %q", status)
	}
	if len(blocks) == 0 {
		return nil
	}
	ids := make([]int64, len(blocks))
	for i, block := range blocks {
		if block.StatusID == 0 {
			return fmt.Errorf("storage: block %d has no status record", block.Number)
		}
		ids[i] = block.StatusID
	}
	result, err := queries.Raw(
		"UPDATE extraction_status SET status = $1 WHERE id = ANY($2) AND status = $3",
		string(status), pq.Array(ids), string(StatusNew),
	).ExecContext(ctx, exec)
	if err != nil {
		return errors.Wrapf(classify(err), "storage: unable to set extraction status to %s", status)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "storage: unable to get rows affected by status update")
	}
	if n != int64(len(ids)) {
		return &ConstraintViolation{
			Kind:       KindConflict,
			Constraint: "extraction_status.status",
			Err:        fmt.Errorf("set %d of %d records to %s", n, len(ids), status),
		}
	}
	return nil
}

// HighestBlock returns the highest block number in the blocks table, or zero
// if it's empty.
func (p *Postgres) HighestBlock(ctx context.Context) (int64, error) {
	var highest int64
	err := p.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(number), 0) FROM blocks").Scan(&highest)
	if err != nil {
		return 0, errors.Wrap(err, "storage: unable to get highest block")
	}
	return highest, nil
}

// Blocks returns the blocks within [from, to], ascending by number.
func (p *Postgres) Blocks(ctx context.Context, exec boil.ContextExecutor, from, to int64) ([]Block, error) {
	var rows []*blockRow
	err := queries.Raw(`
		SELECT number, id, parent_id, time, 0 AS status_id
		FROM blocks
		WHERE number BETWEEN $1 AND $2
		ORDER BY number`,
		from, to,
	).Bind(ctx, exec, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "storage: unable to get blocks")
	}
	blocks := make([]Block, len(rows))
	for i, row := range rows {
		blocks[i] = row.block()
	}
	return blocks, nil
}

// StatusSummary aggregates the status records of one extractor.
type StatusSummary struct {
	Extractor   string     `boil:"extractor"    csv:"extractor"`
	New         int64      `boil:"new_count"    csv:"new"`
	Done        int64      `boil:"done_count"   csv:"done"`
	Error       int64      `boil:"error_count"  csv:"error"`
	LowestNew   null.Int64 `boil:"lowest_new"   csv:"lowest_new"`
	LowestError null.Int64 `boil:"lowest_error" csv:"lowest_error"`
}

// Summary returns a StatusSummary per extractor, ordered by extractor name.
func (p *Postgres) Summary(ctx context.Context) ([]*StatusSummary, error) {
	var summaries []*StatusSummary
	err := queries.Raw(`
		SELECT
			extractor,
			COUNT(*) FILTER (WHERE status = 'new') AS new_count,
			COUNT(*) FILTER (WHERE status = 'done') AS done_count,
			COUNT(*) FILTER (WHERE status = 'error') AS error_count,
			MIN(block_number) FILTER (WHERE status = 'new') AS lowest_new,
			MIN(block_number) FILTER (WHERE status = 'error') AS lowest_error
		FROM extraction_status
		GROUP BY extractor
		ORDER BY extractor`,
	).Bind(ctx, p.db, &summaries)
	if err != nil {
		return nil, errors.Wrap(err, "storage: unable to summarize extraction status")
	}
	return summaries, nil
}
