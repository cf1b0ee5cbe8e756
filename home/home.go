// Package home defines the source contract a Flow's producer task drives
// (spec §4.5): read, the optional watermark-filtered and key-finding
// capabilities, and the shared capability-bit pattern Go expresses through
// interface type assertions rather than a required no-op method.
package home

import (
	"context"

	"hygge.dev/recordbatch"
)

// Batches is the lazy finite sequence a Home yields: each call to Next
// returns the next batch in insertion order of the underlying medium, or
// ok=false once exhausted. A non-nil error is terminal; callers stop
// iterating and propagate it.
type Batches interface {
	Next() (batch *recordbatch.RecordBatch, ok bool, err error)
	// Close releases any resources (file handles, query cursors) held by
	// the sequence. Safe to call after exhaustion or on early abandonment.
	Close() error
}

// Home is the read side of a Flow.
type Home interface {
	// Read returns the lazy sequence of every batch in the source.
	Read(ctx context.Context) (Batches, error)
}

// WatermarkReader is the optional capability a Home can implement to
// filter its sequence to rows newer than a previously observed watermark.
// serializedWatermark is whatever Tracker.Serialize produced on a prior
// run; comparison semantics (int, datetime-as-UTC-instant, or lexical
// string) are the implementation's responsibility.
type WatermarkReader interface {
	ReadWithWatermark(ctx context.Context, watermarkColumn, serializedWatermark string) (Batches, error)
}

// StrictWatermarkReader is the optional capability a Home can implement to
// enforce the spec's Open Question resolution on unsafe watermark/primary-key
// column names (spec §9): when fallbackOnUnsafeName is false, a Home that
// would otherwise silently widen to a full read must instead fail with a
// ferrors.ConfigError. A WatermarkReader that has no notion of "unsafe name"
// (e.g. a local-file Home filtering client-side) need not implement this;
// Flow calls it only when present, and falls back to plain ReadWithWatermark
// otherwise.
type StrictWatermarkReader interface {
	ReadWithWatermarkStrict(ctx context.Context, watermarkColumn, serializedWatermark string, fallbackOnUnsafeName bool) (Batches, error)
}

// KeyFinder is the optional capability a Home can implement in support of
// the mirror-deletion protocol (spec §4.8): projecting just the key
// columns of the full source as a single RecordBatch.
type KeyFinder interface {
	FindKeys(ctx context.Context, keyColumns []string) (*recordbatch.RecordBatch, error)
}

// SupportsKeyFinding reports the capability bit spec §4.5 names; it is a
// plain type assertion since Go has no first-class capability-bit idiom.
func SupportsKeyFinding(h Home) bool {
	_, ok := h.(KeyFinder)
	return ok
}

// SupportsWatermark reports whether h implements the optional
// read_with_watermark capability.
func SupportsWatermark(h Home) bool {
	_, ok := h.(WatermarkReader)
	return ok
}
