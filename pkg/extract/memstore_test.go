package extract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/volatiletech/sqlboiler/v4/boil"

	"github.com/bloxapp/chain-extract/pkg/storage"
)

var errUnsupported = errors.New("memstore: raw queries are not supported")

type statusKey struct {
	number    int64
	extractor string
}

// memStore is an in-memory storage.Store which enforces the same constraints
// as the Postgres schema: status records and extractor rows reference blocks,
// and status records only leave "new" once.
type memStore struct {
	mu       sync.Mutex
	blocks   map[int64]storage.Block
	ids      map[statusKey]int64
	keys     map[int64]statusKey
	statuses map[int64]storage.Status
	tables   map[string]map[int64]int64
	nextID   int64

	// advanceHook, if set, is called before Advance and may fail it.
	advanceHook func(blocks []storage.Block, status storage.Status) error
}

func newMemStore(numbers ...int64) *memStore {
	s := &memStore{
		blocks:   map[int64]storage.Block{},
		ids:      map[statusKey]int64{},
		keys:     map[int64]statusKey{},
		statuses: map[int64]storage.Status{},
		tables:   map[string]map[int64]int64{},
	}
	s.addBlocks(numbers...)
	return s
}

func blockRange(from, to int64) []int64 {
	var numbers []int64
	for n := from; n <= to; n++ {
		numbers = append(numbers, n)
	}
	return numbers
}

func (s *memStore) addBlocks(numbers ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range numbers {
		s.blocks[n] = storage.Block{
			Number:   n,
			ID:       fmt.Sprintf("0x%x", n),
			ParentID: fmt.Sprintf("0x%x", n-1),
			Time:     time.Unix(1700000000+n*12, 0).UTC(),
		}
	}
}

// removeBlock deletes a block along with everything referencing it.
func (s *memStore) removeBlock(number int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, number)
	for key, id := range s.ids {
		if key.number == number {
			delete(s.ids, key)
			delete(s.keys, id)
			delete(s.statuses, id)
		}
	}
	for _, rows := range s.tables {
		delete(rows, number)
	}
}

func (s *memStore) status(number int64, extractor string) (storage.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[statusKey{number, extractor}]
	if !ok {
		return "", false
	}
	return s.statuses[id], true
}

func (s *memStore) setStatus(number int64, extractor string, status storage.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[s.ids[statusKey{number, extractor}]] = status
}

func (s *memStore) rows(table string) map[int64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := map[int64]int64{}
	for k, v := range s.tables[table] {
		rows[k] = v
	}
	return rows
}

func (s *memStore) Enqueue(ctx context.Context, extractors []string, fromNumber int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for number := range s.blocks {
		if number < fromNumber {
			continue
		}
		for _, extractor := range extractors {
			key := statusKey{number, extractor}
			if _, ok := s.ids[key]; ok {
				continue
			}
			s.nextID++
			s.ids[key] = s.nextID
			s.keys[s.nextID] = key
			s.statuses[s.nextID] = storage.StatusNew
			n++
		}
	}
	return n, nil
}

func (s *memStore) NextBatch(
	ctx context.Context,
	extractor string,
	conditions []storage.Condition,
	limit int,
) ([]storage.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blocks []storage.Block
	for number, block := range s.blocks {
		id, ok := s.ids[statusKey{number, extractor}]
		if !ok || s.statuses[id] != storage.StatusNew {
			continue
		}
		satisfied := true
		for _, cond := range conditions {
			depID, ok := s.ids[statusKey{number, cond.Extractor}]
			if !ok || s.statuses[depID] != cond.Status {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		block.StatusID = id
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number < blocks[j].Number })
	if len(blocks) > limit {
		blocks = blocks[:limit]
	}
	return blocks, nil
}

func (s *memStore) HighestBlock(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var highest int64
	for number := range s.blocks {
		if number > highest {
			highest = number
		}
	}
	return highest, nil
}

func (s *memStore) InTx(ctx context.Context, fn func(tx boil.ContextExecutor) error) error {
	tx := &memTx{
		store:    s,
		statuses: map[int64]storage.Status{},
		writes:   map[string]map[int64]int64{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *memStore) Advance(
	ctx context.Context,
	exec boil.ContextExecutor,
	blocks []storage.Block,
	status storage.Status,
) error {
	if s.advanceHook != nil {
		if err := s.advanceHook(blocks, status); err != nil {
			return err
		}
	}
	tx := exec.(*memTx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, block := range blocks {
		// Deleted records are simply not updated, like with the guarded
		// UPDATE in Postgres.
		if _, ok := s.keys[block.StatusID]; !ok || s.statuses[block.StatusID] != storage.StatusNew {
			return conflictError(block.StatusID)
		}
		tx.statuses[block.StatusID] = status
	}
	return nil
}

// memTx stages writes until commit.
type memTx struct {
	store    *memStore
	statuses map[int64]storage.Status
	writes   map[string]map[int64]int64
}

// put stages a row keyed by block number into table.
func (tx *memTx) put(table string, number, value int64) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if _, ok := tx.store.blocks[number]; !ok {
		return foreignKeyError(table + "_block_number_fkey")
	}
	if tx.writes[table] == nil {
		tx.writes[table] = map[int64]int64{}
	}
	tx.writes[table][number] = value
	return nil
}

func (tx *memTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range tx.statuses {
		if _, ok := s.keys[id]; !ok || s.statuses[id] != storage.StatusNew {
			return conflictError(id)
		}
	}
	for table, rows := range tx.writes {
		for number := range rows {
			if _, ok := s.blocks[number]; !ok {
				return foreignKeyError(table + "_block_number_fkey")
			}
		}
	}
	for id, status := range tx.statuses {
		s.statuses[id] = status
	}
	for table, rows := range tx.writes {
		if s.tables[table] == nil {
			s.tables[table] = map[int64]int64{}
		}
		for number, value := range rows {
			s.tables[table][number] = value
		}
	}
	return nil
}

func (tx *memTx) Exec(query string, args ...interface{}) (sql.Result, error) {
	return nil, errUnsupported
}

func (tx *memTx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errUnsupported
}

func (tx *memTx) QueryRow(query string, args ...interface{}) *sql.Row {
	return nil
}

func (tx *memTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errUnsupported
}

func (tx *memTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errUnsupported
}

func (tx *memTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func foreignKeyError(constraint string) error {
	return &storage.ConstraintViolation{
		Kind:       storage.KindForeignKey,
		Constraint: constraint,
		Err:        &pq.Error{Code: "23503", Constraint: constraint},
	}
}

func conflictError(id int64) error {
	return &storage.ConstraintViolation{
		Kind:       storage.KindConflict,
		Constraint: "extraction_status.status",
		Err:        fmt.Errorf("status record %d is no longer new", id),
	}
}

// testExtractor writes number*10 into its own table for every block.
type testExtractor struct {
	name    string
	deps    []string
	disable bool

	// fail, if set, is called after the rows are staged and may fail the
	// sub-batch.
	fail func(blocks []storage.Block) error

	mu      sync.Mutex
	batches [][]int64
}

func (e *testExtractor) Name() string {
	return e.name
}

func (e *testExtractor) Dependencies() []string {
	return e.deps
}

func (e *testExtractor) DisablePerfBoost() bool {
	return e.disable
}

func (e *testExtractor) Transform(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) error {
	numbers := make([]int64, len(blocks))
	for i, block := range blocks {
		numbers[i] = block.Number
	}
	e.mu.Lock()
	e.batches = append(e.batches, numbers)
	e.mu.Unlock()

	mtx := tx.(*memTx)
	for _, block := range blocks {
		if err := mtx.put(e.name, block.Number, block.Number*10); err != nil {
			return err
		}
	}
	if e.fail != nil {
		return e.fail(blocks)
	}
	return nil
}

func (e *testExtractor) Read(ctx context.Context, tx boil.ContextExecutor, blocks []storage.Block) (any, error) {
	rows := tx.(*memTx).store.rows(e.name)
	values := make([]int64, 0, len(blocks))
	for _, block := range blocks {
		if v, ok := rows[block.Number]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}

func (e *testExtractor) recordedBatches() [][]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	batches := make([][]int64, len(e.batches))
	copy(batches, e.batches)
	return batches
}
