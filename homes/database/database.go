// Package database implements home.Home over a SQL table or query (spec
// §6 database Home variant), pushing the incremental predicate into the
// query when it can prove the column names are safe to interpolate, and
// falling back to a full read with a logged warning otherwise.
package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"hygge.dev/ferrors"
	"hygge.dev/home"
	"hygge.dev/logging"
	"hygge.dev/pool"
	"hygge.dev/recordbatch"
	"hygge.dev/sqldriver"
)

var log = logging.New("homes/database")

// identifierPattern matches a bare or dotted-qualified SQL identifier
// (e.g. "updated_at" or "sales.orders.updated_at") — spec §4.5's security
// contract for watermark-injected predicates: anything else is rejected
// rather than string-interpolated.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// SafeIdentifier reports whether name matches the identifier grammar this
// package trusts to interpolate directly into generated SQL.
func SafeIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Config configures a SQL Home. Exactly one of Table or Query should be
// set. When Query is set, ReadWithWatermark always falls back to Read
// with a logged warning, since an arbitrary user query cannot safely be
// rewritten to inject a predicate.
type Config struct {
	Table     string
	Query     string
	BatchSize int
}

// Home reads batches from a SQL table or query through a pooled driver
// connection.
type Home struct {
	cfg   Config
	p     *pool.Pool
	drv   sqldriver.Driver
}

// New returns a Home over cfg, acquiring connections from p (opened with
// drv as its pool.Factory).
func New(cfg Config, p *pool.Pool, drv sqldriver.Driver) *Home {
	return &Home{cfg: cfg, p: p, drv: drv}
}

var _ home.Home = (*Home)(nil)
var _ home.WatermarkReader = (*Home)(nil)
var _ home.StrictWatermarkReader = (*Home)(nil)
var _ home.KeyFinder = (*Home)(nil)

func (h *Home) query() string {
	if h.cfg.Query != "" {
		return h.cfg.Query
	}
	return fmt.Sprintf("SELECT * FROM %s", h.cfg.Table)
}

// Read returns every row of the configured table or query.
func (h *Home) Read(ctx context.Context) (home.Batches, error) {
	return h.runQuery(ctx, h.query(), nil)
}

// ReadWithWatermark appends a "column > $1" predicate to a table-backed
// Home when watermarkColumn passes the identifier-safety check; for a
// custom Query it always falls back to a full Read with a logged warning,
// matching spec §4.5's documented loss of incrementality for arbitrary
// SQL. It is equivalent to ReadWithWatermarkStrict with
// fallbackOnUnsafeName=true.
func (h *Home) ReadWithWatermark(ctx context.Context, watermarkColumn, serializedWatermark string) (home.Batches, error) {
	return h.ReadWithWatermarkStrict(ctx, watermarkColumn, serializedWatermark, true)
}

// ReadWithWatermarkStrict is ReadWithWatermark's capability-checked
// counterpart: when fallbackOnUnsafeName is false, an unsafe watermark
// column name (or a custom Query, which can never safely carry an injected
// predicate) fails fast with a ferrors.ConfigError instead of silently
// widening to a full read, per spec §9's resolution of the unsafe-name
// Open Question.
func (h *Home) ReadWithWatermarkStrict(ctx context.Context, watermarkColumn, serializedWatermark string, fallbackOnUnsafeName bool) (home.Batches, error) {
	if h.cfg.Query != "" {
		if !fallbackOnUnsafeName {
			return nil, ferrors.NewConfigError("custom query Home cannot safely rewrite an incremental predicate and fallback_on_unsafe_name is false", nil)
		}
		log.WithField("query", h.cfg.Query).
			Warn("custom query Home cannot safely rewrite an incremental predicate; falling back to a full read")
		return h.Read(ctx)
	}
	if !SafeIdentifier(watermarkColumn) {
		if !fallbackOnUnsafeName {
			return nil, ferrors.NewConfigError(fmt.Sprintf("watermark column %q failed the identifier-safety check and fallback_on_unsafe_name is false", watermarkColumn), nil)
		}
		log.WithField("watermark_column", watermarkColumn).
			Warn("watermark column name failed the identifier-safety check; falling back to a full read")
		return h.Read(ctx)
	}
	sqlText := fmt.Sprintf("SELECT * FROM %s WHERE %s > $1", h.cfg.Table, watermarkColumn)
	return h.runQuery(ctx, sqlText, []any{serializedWatermark})
}

// FindKeys projects keyColumns from the full table, materialized as a
// single RecordBatch, for the mirror-deletion anti-join protocol (spec
// §4.8). Only available for table-backed Homes with identifier-safe key
// columns; a Query-backed Home or an unsafe column name is a ConfigError,
// matching spec §4.8 step 2's "fail at flow start, not deletion time".
func (h *Home) FindKeys(ctx context.Context, keyColumns []string) (*recordbatch.RecordBatch, error) {
	if h.cfg.Query != "" {
		return nil, ferrors.NewConfigError("a custom-query Home does not support key finding", nil)
	}
	for _, col := range keyColumns {
		if !SafeIdentifier(col) {
			return nil, ferrors.NewConfigError(fmt.Sprintf("key column %q failed the identifier-safety check", col), nil)
		}
	}
	sqlText := fmt.Sprintf("SELECT %s FROM %s", strings.Join(keyColumns, ", "), h.cfg.Table)
	batches, err := h.runQuery(ctx, sqlText, nil)
	if err != nil {
		return nil, err
	}
	defer batches.Close()

	var merged *recordbatch.RecordBatch
	for {
		b, ok, err := batches.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if merged == nil {
			merged = b
			continue
		}
		merged = recordbatch.Concat(merged, b)
	}
	if merged == nil {
		schema := make([]recordbatch.ColumnDef, len(keyColumns))
		for i, col := range keyColumns {
			schema[i] = recordbatch.Col(col, recordbatch.String())
		}
		return recordbatch.New(recordbatch.NewSchema(schema...), 0, emptyColumns(keyColumns)), nil
	}
	return merged, nil
}

func emptyColumns(names []string) map[string][]any {
	cols := make(map[string][]any, len(names))
	for _, n := range names {
		cols[n] = []any{}
	}
	return cols
}

func (h *Home) runQuery(ctx context.Context, sqlText string, params []any) (home.Batches, error) {
	handle, err := h.p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := h.drv.QueryRows(ctx, handle.Resource(), sqlText, params, h.cfg.BatchSize)
	if err != nil {
		_ = h.p.Release(handle)
		return nil, ferrors.NewSourceError("querying source table", err)
	}
	return &batches{rows: rows, release: func() { _ = h.p.Release(handle) }}, nil
}

type batches struct {
	rows    sqldriver.Rows
	release func()
	done    bool
}

func (b *batches) Next() (*recordbatch.RecordBatch, bool, error) {
	batch, ok, err := b.rows.Next()
	if err != nil {
		return nil, false, ferrors.NewSourceError("reading next batch", err)
	}
	if !ok {
		b.closeOnce()
	}
	return batch, ok, nil
}

func (b *batches) Close() error {
	b.closeOnce()
	return b.rows.Close()
}

func (b *batches) closeOnce() {
	if b.done {
		return
	}
	b.done = true
	b.release()
}
