// Package recordbatch defines the columnar data frame that flows between a
// Home and a Store: RecordBatch, its Schema, and the LogicalType tagged
// union. A batch is produced once by a Home and consumed once by a Store;
// nothing in this package mutates a batch after construction.
package recordbatch

import "fmt"

// Kind enumerates the logical column types a batch can carry.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDatetime
	KindDate
	KindTime
	KindDecimal
	KindBinary
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDatetime:
		return "datetime"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindDecimal:
		return "decimal"
	case KindBinary:
		return "binary"
	case KindNull:
		return "null"
	default:
		return "unknown"
	}
}

// LogicalType describes one column's type. WithTZ only applies to
// KindDatetime; Precision/Scale only apply to KindDecimal.
type LogicalType struct {
	Kind      Kind
	WithTZ    bool
	Precision int
	Scale     int
}

func String() LogicalType   { return LogicalType{Kind: KindString} }
func Int() LogicalType      { return LogicalType{Kind: KindInt} }
func Float() LogicalType    { return LogicalType{Kind: KindFloat} }
func Bool() LogicalType     { return LogicalType{Kind: KindBool} }
func Date() LogicalType     { return LogicalType{Kind: KindDate} }
func Time() LogicalType     { return LogicalType{Kind: KindTime} }
func Binary() LogicalType   { return LogicalType{Kind: KindBinary} }
func Null() LogicalType     { return LogicalType{Kind: KindNull} }

func Datetime(withTZ bool) LogicalType {
	return LogicalType{Kind: KindDatetime, WithTZ: withTZ}
}

func Decimal(precision, scale int) LogicalType {
	return LogicalType{Kind: KindDecimal, Precision: precision, Scale: scale}
}

func (t LogicalType) String() string {
	switch t.Kind {
	case KindDatetime:
		if t.WithTZ {
			return "datetime(tz)"
		}
		return "datetime"
	case KindDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	default:
		return t.Kind.String()
	}
}

// Schema maps column name to its logical type, plus the declaration order
// so batches print and serialize deterministically.
type Schema struct {
	order   []string
	columns map[string]LogicalType
}

// NewSchema builds a Schema from ordered (name, type) pairs.
func NewSchema(pairs ...ColumnDef) *Schema {
	s := &Schema{columns: make(map[string]LogicalType, len(pairs))}
	for _, p := range pairs {
		s.order = append(s.order, p.Name)
		s.columns[p.Name] = p.Type
	}
	return s
}

// ColumnDef names one column and its type; used to build a Schema.
type ColumnDef struct {
	Name string
	Type LogicalType
}

// Col is a convenience constructor for ColumnDef.
func Col(name string, t LogicalType) ColumnDef {
	return ColumnDef{Name: name, Type: t}
}

// ColumnNames returns columns in declaration order.
func (s *Schema) ColumnNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether name is a declared column.
func (s *Schema) Has(name string) bool {
	_, ok := s.columns[name]
	return ok
}

// TypeOf returns the logical type of name and whether it was found.
func (s *Schema) TypeOf(name string) (LogicalType, bool) {
	t, ok := s.columns[name]
	return t, ok
}

// Len returns the number of declared columns.
func (s *Schema) Len() int { return len(s.order) }

// RecordBatch is an immutable columnar chunk: a schema, a row count, and
// one []any per column holding row count values (a nil entry in a column
// slice means that row's value is null).
type RecordBatch struct {
	schema   *Schema
	rowCount int
	columns  map[string][]any
}

// New builds a RecordBatch from a schema and column data. All column
// slices must have length rowCount; New panics on mismatch since this
// indicates a Home producing malformed output, a programmer error rather
// than a recoverable runtime condition.
func New(schema *Schema, rowCount int, columns map[string][]any) *RecordBatch {
	for _, name := range schema.ColumnNames() {
		data, ok := columns[name]
		if !ok {
			panic(fmt.Sprintf("recordbatch: missing column %q declared in schema", name))
		}
		if len(data) != rowCount {
			panic(fmt.Sprintf("recordbatch: column %q has %d rows, batch declares %d", name, len(data), rowCount))
		}
	}
	cp := make(map[string][]any, len(columns))
	for k, v := range columns {
		col := make([]any, len(v))
		copy(col, v)
		cp[k] = col
	}
	return &RecordBatch{schema: schema, rowCount: rowCount, columns: cp}
}

// Schema returns the batch's schema.
func (b *RecordBatch) Schema() *Schema { return b.schema }

// RowCount returns the number of rows in the batch.
func (b *RecordBatch) RowCount() int { return b.rowCount }

// Column returns the raw values of a column; the returned slice must not
// be mutated by the caller since RecordBatch never copies on read.
func (b *RecordBatch) Column(name string) ([]any, bool) {
	col, ok := b.columns[name]
	return col, ok
}

// Value returns the value at (column, row); row is not bounds-checked
// beyond the slice access itself, matching the "never partially
// constructed" invariant batches are expected to uphold by construction.
func (b *RecordBatch) Value(column string, row int) any {
	col := b.columns[column]
	return col[row]
}

// Slice returns a new RecordBatch over rows [start, end), sharing the
// schema and not copying column data beyond the slice itself.
func (b *RecordBatch) Slice(start, end int) *RecordBatch {
	if start < 0 || end > b.rowCount || start > end {
		panic("recordbatch: slice bounds out of range")
	}
	cols := make(map[string][]any, len(b.columns))
	for name, data := range b.columns {
		cols[name] = data[start:end]
	}
	return &RecordBatch{schema: b.schema, rowCount: end - start, columns: cols}
}

// Concat appends rhs's rows after lhs's; both must share an identical
// schema (by column set; type equality is the caller's responsibility
// since Schema values aren't compared structurally here).
func Concat(lhs, rhs *RecordBatch) *RecordBatch {
	cols := make(map[string][]any, len(lhs.columns))
	for _, name := range lhs.schema.ColumnNames() {
		merged := make([]any, 0, lhs.rowCount+rhs.rowCount)
		merged = append(merged, lhs.columns[name]...)
		merged = append(merged, rhs.columns[name]...)
		cols[name] = merged
	}
	return &RecordBatch{schema: lhs.schema, rowCount: lhs.rowCount + rhs.rowCount, columns: cols}
}

// RowMarkerColumn is the reserved deletion-tag column name used by
// DeletionMarker batches in the mirror store.
const RowMarkerColumn = "__rowMarker__"

// DeletionTag is the __rowMarker__ value marking a row for deletion.
const DeletionTag = 2

// NewDeletionMarker builds a RecordBatch over just keyColumns plus the
// reserved row-marker column, all rows tagged for deletion.
func NewDeletionMarker(keys *RecordBatch, keyColumns []string) *RecordBatch {
	pairs := make([]ColumnDef, 0, len(keyColumns)+1)
	cols := make(map[string][]any, len(keyColumns)+1)
	for _, name := range keyColumns {
		t, _ := keys.schema.TypeOf(name)
		pairs = append(pairs, Col(name, t))
		data, _ := keys.Column(name)
		cols[name] = data
	}
	pairs = append(pairs, Col(RowMarkerColumn, Int()))
	marker := make([]any, keys.rowCount)
	for i := range marker {
		marker[i] = DeletionTag
	}
	cols[RowMarkerColumn] = marker
	return New(NewSchema(pairs...), keys.rowCount, cols)
}
