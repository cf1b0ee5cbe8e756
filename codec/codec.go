// Package codec defines the external-collaborator contract spec §6 names
// for local-file Homes and Stores: the core never bundles a concrete
// Parquet/CSV/NDJSON implementation, only this minimal interface an
// embedding project supplies (spec §1 Non-goals: "no bundled format
// codecs"). A reference in-memory codec lives in codec/memcodec for tests.
package codec

import (
	"context"

	"hygge.dev/recordbatch"
)

// Rows is the lazy sequence a Codec's Read returns, mirroring
// home.Batches so local-file Homes can adapt one directly into the other.
type Rows interface {
	Next() (batch *recordbatch.RecordBatch, ok bool, err error)
	Close() error
}

// Codec reads and writes RecordBatch data in one on-disk format.
type Codec interface {
	// Read opens path and returns a lazy sequence of batches of at most
	// batchSize rows each.
	Read(ctx context.Context, path string, batchSize int, options map[string]string) (Rows, error)

	// Write serializes batch to path in this codec's format.
	Write(ctx context.Context, batch *recordbatch.RecordBatch, path string, options map[string]string) error

	// SuffixFor returns the file extension (including the leading dot)
	// this codec writes, used to derive artifact filenames.
	SuffixFor() string

	// DefaultPattern returns the file_pattern this codec prefers when the
	// caller did not configure one explicitly.
	DefaultPattern() string
}

// Registry resolves a format name (e.g. "parquet", "csv", "ndjson") to its
// Codec. Kept deliberately separate from the Home/Store registry (spec
// §6) since a single project may wire the same codec under several
// format aliases.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register associates format with c, overwriting any existing
// registration for the same name.
func (r *Registry) Register(format string, c Codec) {
	r.codecs[format] = c
}

// Lookup returns the Codec registered for format, if any.
func (r *Registry) Lookup(format string) (Codec, bool) {
	c, ok := r.codecs[format]
	return c, ok
}
