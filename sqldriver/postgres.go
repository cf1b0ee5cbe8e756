package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"hygge.dev/ferrors"
	"hygge.dev/logging"
	"hygge.dev/recordbatch"
)

var log = logging.New("sqldriver")

// Config configures a Postgres-backed Driver. Defaults mirror the
// connection-pool settings the teacher's db/postgres.go's PGInfo hard-
// codes: ten idle connections, a hundred open, one hour max lifetime.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 100
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = time.Hour
	}
	return c
}

// Postgres implements Driver over database/sql + lib/pq. It owns one
// shared *sql.DB (database/sql's own internal pool); Open hands out a
// single dedicated *sql.Conn per call so the pool package above can
// enforce the spec's explicit acquire/release contract at the business
// layer instead of relying on database/sql's own pool semantics.
type Postgres struct {
	cfg Config
	db  *sql.DB
}

// NewPostgres opens the shared connection pool and configures it per cfg.
func NewPostgres(cfg Config) (*Postgres, error) {
	cfg = cfg.withDefaults()
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, ferrors.NewConfigError("opening postgres driver", err)
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Postgres{cfg: cfg, db: db}, nil
}

var _ Driver = (*Postgres)(nil)

func (p *Postgres) Open(ctx context.Context) (any, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, ferrors.NewSourceError("acquiring postgres connection", err)
	}
	return conn, nil
}

func (p *Postgres) Close(h any) error {
	conn, ok := h.(*sql.Conn)
	if !ok {
		return ferrors.NewConfigError("sqldriver: Close called with a non-*sql.Conn handle", nil)
	}
	return conn.Close()
}

func (p *Postgres) IsAlive(h any) bool {
	conn, ok := h.(*sql.Conn)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.PingContext(ctx) == nil
}

// CloseDB closes the underlying shared *sql.DB; call once at process
// shutdown after every pool built on this driver has been closed.
func (p *Postgres) CloseDB() error {
	return p.db.Close()
}

// ExecuteBulkInsert streams rows into table via PostgreSQL's COPY FROM
// STDIN protocol (github.com/lib/pq's pq.CopyIn), the driver-native bulk
// path for this backend. tableHints has no Postgres equivalent and is
// logged at warn rather than silently ignored if set.
func (p *Postgres) ExecuteBulkInsert(ctx context.Context, h any, table string, columns []string, rows [][]any, tableHints string) error {
	conn, ok := h.(*sql.Conn)
	if !ok {
		return ferrors.NewConfigError("sqldriver: ExecuteBulkInsert called with a non-*sql.Conn handle", nil)
	}
	if tableHints != "" {
		log.WithField("table", table).WithField("table_hints", tableHints).
			Warn("postgres driver has no table-hint equivalent; ignoring")
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.NewSinkError(fmt.Sprintf("beginning bulk insert transaction for %q", table), err)
	}

	stmt, err := tx.PrepareContext(ctx, copyStatement(table, columns))
	if err != nil {
		_ = tx.Rollback()
		return ferrors.NewSinkError(fmt.Sprintf("preparing COPY for %q", table), err)
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return ferrors.NewSinkError(fmt.Sprintf("copying row into %q", table), err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return ferrors.NewSinkError(fmt.Sprintf("flushing COPY for %q", table), err)
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return ferrors.NewSinkError(fmt.Sprintf("closing COPY statement for %q", table), err)
	}
	if err := tx.Commit(); err != nil {
		return ferrors.NewSinkError(fmt.Sprintf("committing bulk insert for %q", table), err)
	}
	return nil
}

// copyStatement builds the COPY FROM STDIN statement for table and
// columns, using pq.CopyInSchema when table carries a "schema.table"
// qualifier and plain pq.CopyIn otherwise.
func copyStatement(table string, columns []string) string {
	if schema, bare, ok := strings.Cut(table, "."); ok {
		return pq.CopyInSchema(schema, bare, columns...)
	}
	return pq.CopyIn(table, columns...)
}

// QueryRows runs sql with params bound positionally and returns a lazy
// RecordBatch sequence chunked to batchSize, inferring each column's
// LogicalType from the driver-reported SQL type name.
func (p *Postgres) QueryRows(ctx context.Context, h any, sqlText string, params []any, batchSize int) (Rows, error) {
	conn, ok := h.(*sql.Conn)
	if !ok {
		return nil, ferrors.NewConfigError("sqldriver: QueryRows called with a non-*sql.Conn handle", nil)
	}
	rows, err := conn.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, ferrors.NewSourceError("executing query", err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, ferrors.NewSourceError("inspecting result column types", err)
	}
	names := make([]string, len(colTypes))
	pairs := make([]recordbatch.ColumnDef, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		pairs[i] = recordbatch.Col(ct.Name(), logicalTypeFor(ct))
	}
	return &pgRows{rows: rows, schema: recordbatch.NewSchema(pairs...), names: names, batchSize: batchSize}, nil
}

func logicalTypeFor(ct *sql.ColumnType) recordbatch.LogicalType {
	switch strings.ToUpper(ct.DatabaseTypeName()) {
	case "INT2", "INT4", "INT8":
		return recordbatch.Int()
	case "FLOAT4", "FLOAT8":
		return recordbatch.Float()
	case "NUMERIC":
		precision, scale, ok := ct.DecimalSize()
		if !ok {
			precision, scale = 38, 9
		}
		return recordbatch.Decimal(int(precision), int(scale))
	case "BOOL":
		return recordbatch.Bool()
	case "TIMESTAMPTZ":
		return recordbatch.Datetime(true)
	case "TIMESTAMP":
		return recordbatch.Datetime(false)
	case "DATE":
		return recordbatch.Date()
	case "TIME":
		return recordbatch.Time()
	case "BYTEA":
		return recordbatch.Binary()
	default:
		return recordbatch.String()
	}
}

// pgRows adapts *sql.Rows into the lazy, batchSize-chunked sequence spec
// §6's query_rows contract describes.
type pgRows struct {
	rows      *sql.Rows
	schema    *recordbatch.Schema
	names     []string
	batchSize int
}

func (r *pgRows) Next() (*recordbatch.RecordBatch, bool, error) {
	cols := make(map[string][]any, len(r.names))
	for _, n := range r.names {
		cols[n] = make([]any, 0, r.batchSize)
	}
	count := 0
	for count < r.batchSize && r.rows.Next() {
		dest := make([]any, len(r.names))
		scanTargets := make([]any, len(r.names))
		for i := range dest {
			scanTargets[i] = &dest[i]
		}
		if err := r.rows.Scan(scanTargets...); err != nil {
			return nil, false, ferrors.NewSourceError("scanning result row", err)
		}
		for i, n := range r.names {
			cols[n] = append(cols[n], dest[i])
		}
		count++
	}
	if err := r.rows.Err(); err != nil {
		return nil, false, ferrors.NewSourceError("iterating result set", err)
	}
	if count == 0 {
		return nil, false, nil
	}
	return recordbatch.New(r.schema, count, cols), true, nil
}

func (r *pgRows) Close() error {
	return r.rows.Close()
}
