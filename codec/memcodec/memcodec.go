// Package memcodec is an in-memory codec.Codec test double, grounded on
// the teacher's MockS3Client pattern of backing an external collaborator
// with a plain in-process map instead of touching disk or a network
// service. homes/local tests wire this in place of a real
// Parquet/CSV/NDJSON codec.
package memcodec

import (
	"context"
	"fmt"
	"sync"

	"hygge.dev/codec"
	"hygge.dev/recordbatch"
)

// Codec stores written batches keyed by path; Write appends to a path's
// batches, and Read replays everything written (or preloaded via Seed) to
// that path in order, chunked to batchSize.
type Codec struct {
	mu      sync.Mutex
	written map[string][]*recordbatch.RecordBatch
	suffix  string
	pattern string
}

// New returns an empty Codec reporting suffix and pattern from SuffixFor
// and DefaultPattern.
func New(suffix, pattern string) *Codec {
	return &Codec{written: make(map[string][]*recordbatch.RecordBatch), suffix: suffix, pattern: pattern}
}

// Seed preloads path with batches, as if a prior run had written them;
// used by Home-side tests that need Read to return fixed data.
func (c *Codec) Seed(path string, batches ...*recordbatch.RecordBatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written[path] = append([]*recordbatch.RecordBatch{}, batches...)
}

// Written returns the batches previously written to path, for assertions.
func (c *Codec) Written(path string) []*recordbatch.RecordBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*recordbatch.RecordBatch{}, c.written[path]...)
}

// Paths returns every path ever written to, for promotion-order assertions.
func (c *Codec) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for p := range c.written {
		out = append(out, p)
	}
	return out
}

func (c *Codec) Write(ctx context.Context, batch *recordbatch.RecordBatch, path string, options map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written[path] = append(c.written[path], batch)
	return nil
}

func (c *Codec) Read(ctx context.Context, path string, batchSize int, options map[string]string) (codec.Rows, error) {
	c.mu.Lock()
	batches, ok := c.written[path]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memcodec: no data seeded or written for path %q", path)
	}
	chunks := make([]*recordbatch.RecordBatch, 0, len(batches))
	for _, b := range batches {
		if batchSize <= 0 || b.RowCount() <= batchSize {
			chunks = append(chunks, b)
			continue
		}
		for start := 0; start < b.RowCount(); start += batchSize {
			end := start + batchSize
			if end > b.RowCount() {
				end = b.RowCount()
			}
			chunks = append(chunks, b.Slice(start, end))
		}
	}
	return &rows{batches: chunks}, nil
}

func (c *Codec) SuffixFor() string      { return c.suffix }
func (c *Codec) DefaultPattern() string { return c.pattern }

type rows struct {
	batches []*recordbatch.RecordBatch
	idx     int
}

func (r *rows) Next() (*recordbatch.RecordBatch, bool, error) {
	if r.idx >= len(r.batches) {
		return nil, false, nil
	}
	b := r.batches[r.idx]
	r.idx++
	return b, true, nil
}

func (r *rows) Close() error { return nil }
