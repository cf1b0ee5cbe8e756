package recordbatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() *Schema {
	return NewSchema(
		Col("id", Int()),
		Col("name", String()),
		Col("created_at", Datetime(true)),
	)
}

func TestNew_BuildsImmutableCopy(t *testing.T) {
	schema := sampleSchema()
	cols := map[string][]any{
		"id":         {1, 2, 3},
		"name":       {"a", "b", "c"},
		"created_at": {nil, nil, nil},
	}
	batch := New(schema, 3, cols)

	cols["id"][0] = 999
	got, _ := batch.Column("id")
	assert.Equal(t, 1, got[0], "mutating the caller's slice after New must not affect the batch")
}

func TestNew_PanicsOnRowCountMismatch(t *testing.T) {
	schema := sampleSchema()
	cols := map[string][]any{
		"id":         {1, 2},
		"name":       {"a", "b"},
		"created_at": {nil, nil},
	}
	assert.Panics(t, func() { New(schema, 3, cols) })
}

func TestSlice_SharesSchemaNotRows(t *testing.T) {
	schema := sampleSchema()
	cols := map[string][]any{
		"id":         {1, 2, 3, 4},
		"name":       {"a", "b", "c", "d"},
		"created_at": {nil, nil, nil, nil},
	}
	batch := New(schema, 4, cols)
	sub := batch.Slice(1, 3)

	require.Equal(t, 2, sub.RowCount())
	assert.Equal(t, 2, sub.Value("id", 0))
	assert.Equal(t, 3, sub.Value("id", 1))
	assert.Same(t, schema, sub.Schema())
}

func TestConcat_AppendsRows(t *testing.T) {
	schema := NewSchema(Col("id", Int()))
	a := New(schema, 2, map[string][]any{"id": {1, 2}})
	b := New(schema, 2, map[string][]any{"id": {3, 4}})

	merged := Concat(a, b)
	assert.Equal(t, 4, merged.RowCount())
	for i, want := range []any{1, 2, 3, 4} {
		assert.Equal(t, want, merged.Value("id", i))
	}
}

func TestNewDeletionMarker_TagsAllRows(t *testing.T) {
	keySchema := NewSchema(Col("id", Int()))
	keys := New(keySchema, 3, map[string][]any{"id": {10, 20, 30}})

	marker := NewDeletionMarker(keys, []string{"id"})
	assert.Equal(t, 3, marker.RowCount())
	for i := 0; i < 3; i++ {
		assert.Equal(t, DeletionTag, marker.Value(RowMarkerColumn, i))
	}
	idCol, ok := marker.Column("id")
	require.True(t, ok)
	assert.Equal(t, []any{10, 20, 30}, idCol)
}

func TestLogicalType_StringFormatting(t *testing.T) {
	assert.Equal(t, "decimal(10,2)", Decimal(10, 2).String())
	assert.Equal(t, "datetime(tz)", Datetime(true).String())
	assert.Equal(t, "datetime", Datetime(false).String())
	assert.Equal(t, "int", Int().String())
}

func TestSchema_ColumnNamesPreservesOrder(t *testing.T) {
	schema := sampleSchema()
	assert.Equal(t, []string{"id", "name", "created_at"}, schema.ColumnNames())
}
