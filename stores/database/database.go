// Package database implements store.Store over a SQL table, with the
// parallel chunked-writer protocol spec §4.6 describes for this variant:
// each flushed chunk is split across parallel_workers pooled connections.
// Unlike stores/local and stores/blob, rows land directly in the target
// table through the driver's bulk-insert path — there is no staging
// artifact to write and promote, so this Store never touches
// store/staging.
package database

import (
	"context"
	"fmt"
	"sync"

	"hygge.dev/ferrors"
	"hygge.dev/pool"
	"hygge.dev/recordbatch"
	"hygge.dev/sqldriver"
	"hygge.dev/store"
)

// WriteStrategy selects how this Store applies rows. Only DirectInsert is
// implemented; TempSwap and Merge are reserved by spec §6 and must be
// rejected at construction time, not at first flush.
type WriteStrategy string

const (
	WriteStrategyDirectInsert WriteStrategy = "direct_insert"
	WriteStrategyTempSwap     WriteStrategy = "temp_swap"
	WriteStrategyMerge        WriteStrategy = "merge"
)

// Config configures a SQL Store.
type Config struct {
	Table           string
	BatchSize       int
	ParallelWorkers int
	TableHints      string
	WriteStrategy   WriteStrategy
}

// Store buffers rows until Config.BatchSize is reached, then splits the
// flushed chunk across Config.ParallelWorkers concurrent bulk inserts.
type Store struct {
	cfg Config
	p   *pool.Pool
	drv sqldriver.Driver

	mu     sync.Mutex
	buffer *recordbatch.RecordBatch
}

var _ store.Store = (*Store)(nil)

// New validates cfg.WriteStrategy and returns a Store driving drv through
// p. p may be nil, in which case every chunk opens and closes its own
// connection directly through drv — the single-connection fallback spec
// §4.6 names for unit testing or an unpooled caller.
func New(cfg Config, p *pool.Pool, drv sqldriver.Driver) (*Store, error) {
	switch cfg.WriteStrategy {
	case "", WriteStrategyDirectInsert:
		cfg.WriteStrategy = WriteStrategyDirectInsert
	case WriteStrategyTempSwap, WriteStrategyMerge:
		return nil, ferrors.NewConfigError(fmt.Sprintf("write strategy %q is reserved and not yet implemented", cfg.WriteStrategy), nil)
	default:
		return nil, ferrors.NewConfigError(fmt.Sprintf("unknown write strategy %q", cfg.WriteStrategy), nil)
	}
	if cfg.ParallelWorkers <= 0 {
		cfg.ParallelWorkers = 1
	}
	return &Store{cfg: cfg, p: p, drv: drv}, nil
}

// ConfigureForRun resets the write buffer. This variant has no staging
// sequence counter or saved-paths list (rows never pass through an
// intermediate file), and the Driver capability spec §6 defines has no
// generic "execute" operation a full_drop truncation could ride on, so
// runType is not recorded, and full_drop_mode does not change Write's
// behavior here.
func (s *Store) ConfigureForRun(runType store.RunType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
}

// BeforeFlowStart is a no-op: the mirror-deletion protocol (spec §4.8)
// belongs to the blob Store variant only.
func (s *Store) BeforeFlowStart(ctx context.Context) error { return nil }

func (s *Store) Write(ctx context.Context, batch *recordbatch.RecordBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.RowCount() == 0 {
		return nil
	}
	if s.buffer == nil {
		s.buffer = batch
	} else {
		s.buffer = recordbatch.Concat(s.buffer, batch)
	}

	for s.buffer.RowCount() >= s.cfg.BatchSize {
		chunk := s.buffer.Slice(0, s.cfg.BatchSize)
		if err := s.flush(ctx, chunk); err != nil {
			return err
		}
		s.buffer = s.buffer.Slice(s.cfg.BatchSize, s.buffer.RowCount())
	}
	return nil
}

// Finish flushes any residual buffered rows. There is nothing to promote.
func (s *Store) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer != nil && s.buffer.RowCount() > 0 {
		if err := s.flush(ctx, s.buffer); err != nil {
			return err
		}
		s.buffer = nil
	}
	return nil
}

// Close is Finish plus nothing further: no staging artifacts to clean up.
func (s *Store) Close(ctx context.Context) error {
	return s.Finish(ctx)
}

func (s *Store) ResetRetrySensitiveState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
}

// flush splits chunk into parallel_workers roughly equal pieces and bulk-
// inserts each concurrently; the batch is acknowledged only once every
// piece has committed (spec §4.6 "Parallel writes").
func (s *Store) flush(ctx context.Context, chunk *recordbatch.RecordBatch) error {
	pieces := splitChunks(chunk, s.cfg.ParallelWorkers)
	errs := make(chan error, len(pieces))
	var wg sync.WaitGroup

	for _, piece := range pieces {
		if piece.RowCount() == 0 {
			continue
		}
		wg.Add(1)
		go func(piece *recordbatch.RecordBatch) {
			defer wg.Done()
			errs <- s.insertChunk(ctx, piece)
		}(piece)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertChunk(ctx context.Context, chunk *recordbatch.RecordBatch) error {
	columns, rows := toRows(chunk)

	if s.p == nil {
		h, err := s.drv.Open(ctx)
		if err != nil {
			return ferrors.NewSinkError("opening unpooled connection for bulk insert into "+s.cfg.Table, err)
		}
		defer s.drv.Close(h)
		if err := s.drv.ExecuteBulkInsert(ctx, h, s.cfg.Table, columns, rows, s.cfg.TableHints); err != nil {
			return ferrors.NewSinkError("bulk inserting into "+s.cfg.Table, err)
		}
		return nil
	}

	err := s.p.WithHandle(ctx, func(h pool.Handle) error {
		return s.drv.ExecuteBulkInsert(ctx, h.Resource(), s.cfg.Table, columns, rows, s.cfg.TableHints)
	})
	if err != nil {
		return ferrors.NewSinkError("bulk inserting into "+s.cfg.Table, err)
	}
	return nil
}

// splitChunks divides batch into at most n roughly-equal pieces (the
// first pieces absorb the remainder); n ≤ 1 or an empty batch returns the
// batch whole.
func splitChunks(batch *recordbatch.RecordBatch, n int) []*recordbatch.RecordBatch {
	total := batch.RowCount()
	if n <= 1 || total == 0 {
		return []*recordbatch.RecordBatch{batch}
	}
	base := total / n
	rem := total % n
	chunks := make([]*recordbatch.RecordBatch, 0, n)
	start := 0
	for i := 0; i < n && start < total; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		chunks = append(chunks, batch.Slice(start, start+size))
		start += size
	}
	return chunks
}

// toRows converts batch into the (columns, row-major rows) shape
// Driver.ExecuteBulkInsert consumes.
func toRows(batch *recordbatch.RecordBatch) ([]string, [][]any) {
	columns := batch.Schema().ColumnNames()
	rows := make([][]any, batch.RowCount())
	for r := 0; r < batch.RowCount(); r++ {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = batch.Value(col, r)
		}
		rows[r] = row
	}
	return columns, rows
}
