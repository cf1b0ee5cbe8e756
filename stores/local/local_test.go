package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hygge.dev/codec"
	"hygge.dev/recordbatch"
	"hygge.dev/store"
)

// rowCountCodec is a minimal codec.Codec test double that actually writes
// to the local filesystem (one line per row), since the local Store
// variant always pairs with a codec backing the same filesystem its
// staging tracker verifies against — unlike memcodec, which stands in for
// a remote-service-backed codec on the Home-read side only.
type rowCountCodec struct {
	written map[string]int
}

func newRowCountCodec() *rowCountCodec { return &rowCountCodec{written: make(map[string]int)} }

func (c *rowCountCodec) Write(ctx context.Context, batch *recordbatch.RecordBatch, path string, options map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("rows=%d\n", batch.RowCount())), 0644); err != nil {
		return err
	}
	c.written[path] = batch.RowCount()
	return nil
}

func (c *rowCountCodec) Read(ctx context.Context, path string, batchSize int, options map[string]string) (codec.Rows, error) {
	return nil, fmt.Errorf("rowCountCodec: Read not supported")
}

func (c *rowCountCodec) SuffixFor() string      { return ".txt" }
func (c *rowCountCodec) DefaultPattern() string { return "{sequence:020d}" }

var _ codec.Codec = (*rowCountCodec)(nil)

func batch(n int) *recordbatch.RecordBatch {
	schema := recordbatch.NewSchema(recordbatch.Col("id", recordbatch.Int()))
	vals := make([]any, n)
	for i := range vals {
		vals[i] = i
	}
	return recordbatch.New(schema, n, map[string][]any{"id": vals})
}

func TestStore_Write_FlushesOnBatchSize(t *testing.T) {
	dir := t.TempDir()
	c := newRowCountCodec()
	s := New(Config{Path: filepath.Join(dir, "Files", "{entity}"), BatchSize: 3}, "orders", "nightly", c)
	ctx := context.Background()

	s.ConfigureForRun(store.RunTypeIncremental)
	require.NoError(t, s.BeforeFlowStart(ctx))

	require.NoError(t, s.Write(ctx, batch(5)))
	assert.Len(t, c.written, 1)

	require.NoError(t, s.Finish(ctx))
	assert.Len(t, c.written, 2)

	entries, err := os.ReadDir(filepath.Join(dir, "Files", "orders"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_Finish_NoBufferedRowsIsNoop(t *testing.T) {
	dir := t.TempDir()
	c := newRowCountCodec()
	s := New(Config{Path: filepath.Join(dir, "Files", "{entity}"), BatchSize: 10}, "orders", "", c)
	ctx := context.Background()
	s.ConfigureForRun(store.RunTypeFullDrop)
	require.NoError(t, s.BeforeFlowStart(ctx))

	require.NoError(t, s.Finish(ctx))
	assert.Empty(t, c.written)
}

func TestStore_Close_IsIdempotentAfterFinish(t *testing.T) {
	dir := t.TempDir()
	c := newRowCountCodec()
	s := New(Config{Path: filepath.Join(dir, "Files", "{entity}"), BatchSize: 2}, "orders", "", c)
	ctx := context.Background()
	s.ConfigureForRun(store.RunTypeIncremental)
	require.NoError(t, s.BeforeFlowStart(ctx))

	require.NoError(t, s.Write(ctx, batch(2)))
	require.NoError(t, s.Finish(ctx))
	require.NoError(t, s.Close(ctx))
}

func TestStore_ResetRetrySensitiveState_ClearsBuffer(t *testing.T) {
	dir := t.TempDir()
	c := newRowCountCodec()
	s := New(Config{Path: filepath.Join(dir, "Files", "{entity}"), BatchSize: 10}, "orders", "", c)
	ctx := context.Background()
	s.ConfigureForRun(store.RunTypeIncremental)
	require.NoError(t, s.BeforeFlowStart(ctx))

	require.NoError(t, s.Write(ctx, batch(3)))
	s.ResetRetrySensitiveState()
	require.NoError(t, s.Finish(ctx))
	assert.Empty(t, c.written)
}

func TestStore_ConfigureForRun_FullDropTruncatesFinalDirectory(t *testing.T) {
	dir := t.TempDir()
	finalDir := filepath.Join(dir, "Files", "orders")
	require.NoError(t, os.MkdirAll(finalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(finalDir, "stale.txt"), []byte("old"), 0644))

	c := newRowCountCodec()
	s := New(Config{Path: filepath.Join(dir, "Files", "{entity}"), BatchSize: 2}, "orders", "", c)
	ctx := context.Background()
	s.ConfigureForRun(store.RunTypeFullDrop)
	require.NoError(t, s.BeforeFlowStart(ctx))

	require.NoError(t, s.Write(ctx, batch(2)))
	require.NoError(t, s.Finish(ctx))

	entries, err := os.ReadDir(finalDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
