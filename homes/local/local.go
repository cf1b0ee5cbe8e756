// Package local implements home.Home over a local-file medium (spec §6
// local Home variant), delegating the actual byte-level format to a
// codec.Codec external collaborator rather than bundling a concrete
// Parquet/CSV/NDJSON implementation.
package local

import (
	"context"
	"fmt"

	"hygge.dev/codec"
	"hygge.dev/ferrors"
	"hygge.dev/home"
	"hygge.dev/logging"
	"hygge.dev/recordbatch"
	"hygge.dev/watermark"
)

var log = logging.New("homes/local")

// Config configures a local-file Home.
type Config struct {
	Path          string
	Format        string
	BatchSize     int
	FormatOptions map[string]string
}

// Home reads batches from one local-file path through a registered codec.
type Home struct {
	cfg   Config
	codec codec.Codec
}

// New returns a Home reading cfg.Path in cfg.Format via c.
func New(cfg Config, c codec.Codec) *Home {
	return &Home{cfg: cfg, codec: c}
}

var _ home.Home = (*Home)(nil)
var _ home.WatermarkReader = (*Home)(nil)

// Read opens the configured path and returns its full batch sequence.
func (h *Home) Read(ctx context.Context) (home.Batches, error) {
	rows, err := h.codec.Read(ctx, h.cfg.Path, h.cfg.BatchSize, h.cfg.FormatOptions)
	if err != nil {
		return nil, ferrors.NewSourceError(fmt.Sprintf("reading %q", h.cfg.Path), err)
	}
	return &batches{rows: rows}, nil
}

// ReadWithWatermark reads the full file and filters client-side to rows
// whose watermarkColumn exceeds serializedWatermark, since a flat file has
// no index to push the predicate down to. This still yields a correct,
// if less efficient, incremental read (spec §4.5's local variant has no
// query engine to delegate to).
func (h *Home) ReadWithWatermark(ctx context.Context, watermarkColumn, serializedWatermark string) (home.Batches, error) {
	rows, err := h.codec.Read(ctx, h.cfg.Path, h.cfg.BatchSize, h.cfg.FormatOptions)
	if err != nil {
		return nil, ferrors.NewSourceError(fmt.Sprintf("reading %q", h.cfg.Path), err)
	}
	return &filteredBatches{rows: rows, column: watermarkColumn, serialized: serializedWatermark}, nil
}

type batches struct {
	rows codec.Rows
}

func (b *batches) Next() (*recordbatch.RecordBatch, bool, error) {
	batch, ok, err := b.rows.Next()
	if err != nil {
		return nil, false, ferrors.NewSourceError("reading next batch", err)
	}
	return batch, ok, nil
}

func (b *batches) Close() error { return b.rows.Close() }

// filteredBatches wraps a raw codec sequence, dropping rows at or below
// the watermark from each batch before handing it to the caller.
type filteredBatches struct {
	rows       codec.Rows
	column     string
	serialized string
	parsed     any
	kind       recordbatch.Kind
	resolved   bool
}

func (f *filteredBatches) Next() (*recordbatch.RecordBatch, bool, error) {
	for {
		batch, ok, err := f.rows.Next()
		if err != nil {
			return nil, false, ferrors.NewSourceError("reading next batch", err)
		}
		if !ok {
			return nil, false, nil
		}
		if !f.resolved {
			kind, found := batch.Schema().TypeOf(f.column)
			if !found {
				return nil, false, ferrors.NewConfigError(fmt.Sprintf("watermark column %q not present in schema", f.column), nil)
			}
			parsed, err := watermark.ParseSerialized(kind.Kind, f.serialized)
			if err != nil {
				return nil, false, ferrors.NewConfigError("parsing watermark for incremental read", err)
			}
			f.kind = kind.Kind
			f.parsed = parsed
			f.resolved = true
		}
		filtered := filterRows(batch, f.column, f.kind, f.parsed)
		if filtered.RowCount() == 0 {
			continue
		}
		return filtered, true, nil
	}
}

func (f *filteredBatches) Close() error { return f.rows.Close() }

func filterRows(batch *recordbatch.RecordBatch, column string, kind recordbatch.Kind, watermarkValue any) *recordbatch.RecordBatch {
	col, _ := batch.Column(column)
	keep := make([]int, 0, batch.RowCount())
	for i, v := range col {
		if v == nil {
			continue
		}
		if watermark.GreaterThan(kind, v, watermarkValue) {
			keep = append(keep, i)
		}
	}
	schema := batch.Schema()
	cols := make(map[string][]any, schema.Len())
	for _, name := range schema.ColumnNames() {
		data, _ := batch.Column(name)
		picked := make([]any, len(keep))
		for i, idx := range keep {
			picked[i] = data[idx]
		}
		cols[name] = picked
	}
	return recordbatch.New(schema, len(keep), cols)
}
