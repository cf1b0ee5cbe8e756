// Package sqldriver defines the SQL driver capability spec §6 names as an
// external collaborator: open/close/is_alive plus the two data-moving
// operations homes/database and stores/database actually drive,
// execute_bulk_insert and query_rows. A concrete database/sql + lib/pq
// implementation lives alongside it in postgres.go, adapted from the
// teacher's db/postgres.go connection-pool configuration.
package sqldriver

import (
	"context"

	"hygge.dev/recordbatch"
)

// Rows is the lazy sequence query_rows returns, matching home.Batches'
// shape so a Driver-backed Home can hand it straight to a Flow producer.
type Rows interface {
	Next() (batch *recordbatch.RecordBatch, ok bool, err error)
	Close() error
}

// Driver is the pluggable SQL backend homes/database and stores/database
// drive through a pool.Pool; pool.Factory.Open/Close delegate to the
// methods here.
type Driver interface {
	// Open returns a new connection handle.
	Open(ctx context.Context) (any, error)

	// Close releases a handle returned by Open.
	Close(h any) error

	// IsAlive reports whether h is still usable; implementing this also
	// satisfies pool.LivenessChecker.
	IsAlive(h any) bool

	// ExecuteBulkInsert writes rows (row-major, ordered to match columns)
	// into table using the driver-native bulk path. tableHints, when
	// non-empty, is passed through verbatim (e.g. a SQL Server locking
	// hint); drivers that have no such concept ignore it.
	ExecuteBulkInsert(ctx context.Context, h any, table string, columns []string, rows [][]any, tableHints string) error

	// QueryRows runs sql with params bound as driver parameters (never
	// string-interpolated) and returns a lazy RecordBatch sequence
	// chunked to batchSize rows.
	QueryRows(ctx context.Context, h any, sql string, params []any, batchSize int) (Rows, error)
}

// PoolFactory adapts a Driver into a pool.Factory (and, since it also
// implements IsAlive, a pool.LivenessChecker), letting one pool.Pool be
// built per Driver instance without either package importing the other.
type PoolFactory struct {
	Driver Driver
}

func (f PoolFactory) Open(ctx context.Context) (any, error) { return f.Driver.Open(ctx) }
func (f PoolFactory) Close(h any) error                     { return f.Driver.Close(h) }
func (f PoolFactory) IsAlive(h any) bool                     { return f.Driver.IsAlive(h) }
