package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hygge.dev/config"
	"hygge.dev/ferrors"
	"hygge.dev/home"
	"hygge.dev/journal"
	"hygge.dev/journal/journalmem"
	"hygge.dev/recordbatch"
	"hygge.dev/retry"
	"hygge.dev/store"
)

func batch(ids ...int) *recordbatch.RecordBatch {
	schema := recordbatch.NewSchema(recordbatch.Col("id", recordbatch.Int()))
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return recordbatch.New(schema, len(ids), map[string][]any{"id": vals})
}

// sliceBatches replays a fixed slice of batches, the minimal home.Batches
// implementation a producer-side test needs.
type sliceBatches struct {
	remaining []*recordbatch.RecordBatch
	failAt    int // index at which Next returns err instead of a batch, -1 disables
	err       error
	closed    bool
}

func (b *sliceBatches) Next() (*recordbatch.RecordBatch, bool, error) {
	if b.failAt == 0 {
		b.failAt = -1
		return nil, false, b.err
	}
	if b.failAt > 0 {
		b.failAt--
	}
	if len(b.remaining) == 0 {
		return nil, false, nil
	}
	next := b.remaining[0]
	b.remaining = b.remaining[1:]
	return next, true, nil
}

func (b *sliceBatches) Close() error {
	b.closed = true
	return nil
}

// fakeHome yields a fixed batch sequence and optionally supports the
// watermark-reader capability, the same role fakeKeyFinder/plainHome play
// in stores/blob's tests for the Home side.
type fakeHome struct {
	batches                []*recordbatch.RecordBatch
	failAt                 int
	failErr                error
	lastRequestedWatermark string
}

func (h *fakeHome) Read(ctx context.Context) (home.Batches, error) {
	failAt := -1
	if h.failAt > 0 {
		failAt = h.failAt
	}
	return &sliceBatches{remaining: append([]*recordbatch.RecordBatch{}, h.batches...), failAt: failAt, err: h.failErr}, nil
}

func (h *fakeHome) ReadWithWatermark(ctx context.Context, watermarkColumn, serialized string) (home.Batches, error) {
	h.lastRequestedWatermark = serialized
	return &sliceBatches{remaining: append([]*recordbatch.RecordBatch{}, h.batches...), failAt: -1}, nil
}

var _ home.Home = (*fakeHome)(nil)
var _ home.WatermarkReader = (*fakeHome)(nil)

// fakeStore records every write and supports failing on demand, the
// consumer-side counterpart of fakeHome.
type fakeStore struct {
	mu sync.Mutex

	writes       []*recordbatch.RecordBatch
	failWrites   int // number of Write calls, from the start, that fail
	finished     bool
	closed       bool
	beforeErr    error
	resetCalls   int
	runType      store.RunType
}

func (s *fakeStore) ConfigureForRun(runType store.RunType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runType = runType
}

func (s *fakeStore) BeforeFlowStart(ctx context.Context) error { return s.beforeErr }

func (s *fakeStore) Write(ctx context.Context, b *recordbatch.RecordBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return ferrors.NewSinkError("simulated write failure", fmt.Errorf("boom"))
	}
	s.writes = append(s.writes, b)
	return nil
}

func (s *fakeStore) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

func (s *fakeStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) ResetRetrySensitiveState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCalls++
}

var _ store.Store = (*fakeStore)(nil)

func (s *fakeStore) rowTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, b := range s.writes {
		total += b.RowCount()
	}
	return total
}

func testConfig(name string, runType config.RunType) config.FlowConfig {
	return config.FlowConfig{
		Name:      name,
		QueueSize: 2,
		RunType:   runType,
	}
}

func noBackoffPolicy() retry.Policy {
	return retry.Policy{Retries: 2, Name: "test-write"}
}

func TestFlow_Run_WritesEveryBatchAndClosesStore(t *testing.T) {
	h := &fakeHome{batches: []*recordbatch.RecordBatch{batch(1, 2), batch(3, 4, 5)}}
	s := &fakeStore{}
	j := journalmem.New()

	f := New(testConfig("orders", config.RunTypeFullDrop), h, s, j, noBackoffPolicy())
	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	require.NoError(t, result.Err)
	assert.Equal(t, StateSucceeded, result.Status)
	assert.EqualValues(t, 5, result.RowCount)
	assert.Equal(t, 5, s.rowTotal())
	assert.True(t, s.finished)
	assert.True(t, s.closed)

	entries := j.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusOK, entries[0].Status)
}

func TestFlow_Run_SourceFailureClosesStoreAndRecordsFailure(t *testing.T) {
	h := &fakeHome{batches: []*recordbatch.RecordBatch{batch(1)}, failAt: 1, failErr: fmt.Errorf("disk error")}
	s := &fakeStore{}
	j := journalmem.New()

	f := New(testConfig("orders", config.RunTypeFullDrop), h, s, j, noBackoffPolicy())
	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	require.Error(t, result.Err)
	assert.Equal(t, StateFailed, result.Status)
	assert.True(t, s.closed)

	entries := j.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusFailed, entries[0].Status)
}

func TestFlow_Run_WriteFailureExhaustsRetriesAndCancelsProducer(t *testing.T) {
	h := &fakeHome{batches: []*recordbatch.RecordBatch{batch(1), batch(2), batch(3)}}
	s := &fakeStore{failWrites: 10}
	j := journalmem.New()

	policy := noBackoffPolicy()
	policy.BeforeRetry = func(ctx context.Context, attempt int, cause error) error {
		s.ResetRetrySensitiveState()
		return nil
	}

	f := New(testConfig("orders", config.RunTypeFullDrop), h, s, j, policy)
	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	require.Error(t, result.Err)
	assert.Equal(t, StateFailed, result.Status)
	assert.True(t, s.closed)
	assert.False(t, s.finished, "a failed consumer never reaches finish()")
	assert.GreaterOrEqual(t, s.resetCalls, 1, "retry wrapper must reset retry-sensitive state before each retried write")
}

func TestFlow_Run_IncrementalWithNoPriorWatermarkReadsFull(t *testing.T) {
	h := &fakeHome{batches: []*recordbatch.RecordBatch{batch(1, 2)}}
	s := &fakeStore{}
	j := journalmem.New()

	cfg := testConfig("orders", config.RunTypeIncremental)
	cfg.Watermark = &config.WatermarkConfig{WatermarkColumn: "id"}
	f := New(cfg, h, s, j, noBackoffPolicy())

	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})
	require.NoError(t, result.Err)
	assert.Equal(t, "", h.lastRequestedWatermark)

	entries := j.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].HasWatermark)
	assert.Equal(t, "2", entries[0].SerializedWatermark)
}

func TestFlow_Run_IncrementalWithPriorWatermarkDispatchesToReadWithWatermark(t *testing.T) {
	h := &fakeHome{batches: []*recordbatch.RecordBatch{batch(10, 11)}}
	s := &fakeStore{}
	j := journalmem.New()

	cfg := testConfig("orders", config.RunTypeIncremental)
	cfg.Watermark = &config.WatermarkConfig{WatermarkColumn: "id"}

	entry, err := j.BeginRun(journal.RunIDs{CoordinatorRunID: "c0", FlowRunID: "f0", EntityRunID: "e0"}, "orders", "orders", "incremental", time.Now())
	require.NoError(t, err)
	require.NoError(t, j.CompleteRun(entry, journal.StatusOK, "9", true, 1, nil))

	f := New(cfg, h, s, j, noBackoffPolicy())
	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	require.NoError(t, result.Err)
	assert.Equal(t, "9", h.lastRequestedWatermark)
}

// fakeStrictHome supports home.StrictWatermarkReader and records the
// fallbackOnUnsafeName flag it was called with, so a test can assert Flow
// threads the Watermark config's FallbackOnUnsafeName through rather than
// silently always falling back.
type fakeStrictHome struct {
	batches          []*recordbatch.RecordBatch
	lastFallbackFlag bool
	denyFallback     bool
}

func (h *fakeStrictHome) Read(ctx context.Context) (home.Batches, error) {
	return &sliceBatches{remaining: append([]*recordbatch.RecordBatch{}, h.batches...), failAt: -1}, nil
}

func (h *fakeStrictHome) ReadWithWatermark(ctx context.Context, watermarkColumn, serialized string) (home.Batches, error) {
	return h.ReadWithWatermarkStrict(ctx, watermarkColumn, serialized, true)
}

func (h *fakeStrictHome) ReadWithWatermarkStrict(ctx context.Context, watermarkColumn, serialized string, fallbackOnUnsafeName bool) (home.Batches, error) {
	h.lastFallbackFlag = fallbackOnUnsafeName
	if h.denyFallback && !fallbackOnUnsafeName {
		return nil, ferrors.NewConfigError("watermark column unsafe and fallback disabled", nil)
	}
	return &sliceBatches{remaining: append([]*recordbatch.RecordBatch{}, h.batches...), failAt: -1}, nil
}

var _ home.Home = (*fakeStrictHome)(nil)
var _ home.WatermarkReader = (*fakeStrictHome)(nil)
var _ home.StrictWatermarkReader = (*fakeStrictHome)(nil)

func TestFlow_Run_PassesFallbackOnUnsafeNameThroughToStrictReader(t *testing.T) {
	h := &fakeStrictHome{batches: []*recordbatch.RecordBatch{batch(1)}}
	s := &fakeStore{}
	j := journalmem.New()

	cfg := testConfig("orders", config.RunTypeIncremental)
	cfg.Watermark = &config.WatermarkConfig{WatermarkColumn: "updated_at; DROP TABLE orders", FallbackOnUnsafeName: false}

	seedEntry, err := j.BeginRun(journal.RunIDs{CoordinatorRunID: "c0", FlowRunID: "f0", EntityRunID: "e0"}, "orders", "orders", "incremental", time.Now())
	require.NoError(t, err)
	require.NoError(t, j.CompleteRun(seedEntry, journal.StatusOK, "9", true, 1, nil))

	f := New(cfg, h, s, j, noBackoffPolicy())
	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	require.NoError(t, result.Err)
	assert.False(t, h.lastFallbackFlag)
}

func TestFlow_Run_UnsafeWatermarkNameWithFallbackDisabledFailsWithConfigError(t *testing.T) {
	h := &fakeStrictHome{batches: []*recordbatch.RecordBatch{batch(1)}, denyFallback: true}
	s := &fakeStore{}
	j := journalmem.New()

	cfg := testConfig("orders", config.RunTypeIncremental)
	cfg.Watermark = &config.WatermarkConfig{WatermarkColumn: "updated_at; DROP TABLE orders", FallbackOnUnsafeName: false}

	seedEntry, err := j.BeginRun(journal.RunIDs{CoordinatorRunID: "c0", FlowRunID: "f0", EntityRunID: "e0"}, "orders", "orders", "incremental", time.Now())
	require.NoError(t, err)
	require.NoError(t, j.CompleteRun(seedEntry, journal.StatusOK, "9", true, 1, nil))

	f := New(cfg, h, s, j, noBackoffPolicy())
	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	var cfgErr *ferrors.ConfigError
	assert.ErrorAs(t, result.Err, &cfgErr)
}

// nonWatermarkHome implements only home.Home, used to test the
// incremental-without-capability configuration error path.
type nonWatermarkHome struct{ batches []*recordbatch.RecordBatch }

func (h *nonWatermarkHome) Read(ctx context.Context) (home.Batches, error) {
	return &sliceBatches{remaining: h.batches, failAt: -1}, nil
}

var _ home.Home = (*nonWatermarkHome)(nil)

func TestFlow_Run_IncrementalWithoutWatermarkCapabilityIsConfigError(t *testing.T) {
	h := &nonWatermarkHome{batches: []*recordbatch.RecordBatch{batch(1)}}
	s := &fakeStore{}
	j := journalmem.New()

	seedEntry, err := j.BeginRun(journal.RunIDs{CoordinatorRunID: "c0", FlowRunID: "f0", EntityRunID: "e0"}, "orders", "orders", "incremental", time.Now())
	require.NoError(t, err)
	require.NoError(t, j.CompleteRun(seedEntry, journal.StatusOK, "9", true, 1, nil))

	cfg := testConfig("orders", config.RunTypeIncremental)
	cfg.Watermark = &config.WatermarkConfig{WatermarkColumn: "id"}
	f := New(cfg, h, s, j, noBackoffPolicy())

	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})
	require.Error(t, result.Err)
	var cfgErr *ferrors.ConfigError
	assert.ErrorAs(t, result.Err, &cfgErr)
	assert.True(t, s.closed)
}

func TestFlow_Run_BeforeFlowStartFailureNeverOpensTheQueue(t *testing.T) {
	h := &fakeHome{batches: []*recordbatch.RecordBatch{batch(1)}}
	s := &fakeStore{beforeErr: ferrors.NewConfigError("mirror target unreachable", nil)}
	j := journalmem.New()

	f := New(testConfig("orders", config.RunTypeFullDrop), h, s, j, noBackoffPolicy())
	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	require.Error(t, result.Err)
	assert.Equal(t, StateFailed, result.Status)
	assert.Empty(t, s.writes)
	assert.True(t, s.closed)
}

func TestFlow_Run_ExternalCancellationReportsCancelledState(t *testing.T) {
	h := &fakeHome{batches: []*recordbatch.RecordBatch{batch(1), batch(2), batch(3)}}
	s := &fakeStore{}
	j := journalmem.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(testConfig("orders", config.RunTypeFullDrop), h, s, j, noBackoffPolicy())
	result := f.Run(ctx, journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})

	require.Error(t, result.Err)
	assert.Equal(t, StateCancelled, result.Status)
	assert.True(t, s.closed)
}

func TestFlow_Run_QueueSizeBoundsProducerAheadOfConsumer(t *testing.T) {
	// A queue_size of 1 with a slow consumer must never let the producer
	// race more than one batch ahead; this is exercised indirectly by
	// asserting every batch is still written exactly once despite the
	// small queue.
	many := make([]*recordbatch.RecordBatch, 0, 20)
	for i := 0; i < 20; i++ {
		many = append(many, batch(i))
	}
	h := &fakeHome{batches: many}
	s := &fakeStore{}
	j := journalmem.New()

	cfg := testConfig("orders", config.RunTypeFullDrop)
	cfg.QueueSize = 1
	f := New(cfg, h, s, j, noBackoffPolicy())

	result := f.Run(context.Background(), journal.RunIDs{CoordinatorRunID: "c1", FlowRunID: "f1", EntityRunID: "e1"})
	require.NoError(t, result.Err)
	assert.Len(t, s.writes, 20)
}
