package blob

import (
	"fmt"
	"strings"

	"hygge.dev/recordbatch"
)

// AntiJoinKeys returns the rows of target whose keyColumns tuple does not
// appear anywhere in source (spec §4.8 step 3), projected to keyColumns
// only. source is scanned in batchRows-sized groups while building the
// lookup set, the batching original_source/stores/openmirroring
// /deletions.py's "Polars handles large datasets efficiently" comment
// leaves implicit but spec §4.8 requires explicitly for very large inputs.
// batchRows ≤ 0 scans source in one pass.
func AntiJoinKeys(target, source *recordbatch.RecordBatch, keyColumns []string, batchRows int) *recordbatch.RecordBatch {
	if batchRows <= 0 {
		batchRows = source.RowCount()
	}
	if batchRows <= 0 {
		batchRows = 1
	}

	seen := make(map[string]struct{}, source.RowCount())
	for start := 0; start < source.RowCount(); start += batchRows {
		end := start + batchRows
		if end > source.RowCount() {
			end = source.RowCount()
		}
		for r := start; r < end; r++ {
			seen[keyTuple(source, keyColumns, r)] = struct{}{}
		}
	}

	keep := make([]int, 0, target.RowCount())
	for r := 0; r < target.RowCount(); r++ {
		if _, found := seen[keyTuple(target, keyColumns, r)]; !found {
			keep = append(keep, r)
		}
	}
	return projectRows(target, keyColumns, keep)
}

func keyTuple(b *recordbatch.RecordBatch, cols []string, row int) string {
	var sb strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&sb, "%v\x1f", b.Value(c, row))
	}
	return sb.String()
}

func projectRows(b *recordbatch.RecordBatch, cols []string, rows []int) *recordbatch.RecordBatch {
	defs := make([]recordbatch.ColumnDef, len(cols))
	data := make(map[string][]any, len(cols))
	for i, c := range cols {
		t, _ := b.Schema().TypeOf(c)
		defs[i] = recordbatch.Col(c, t)
		vals := make([]any, len(rows))
		for j, r := range rows {
			vals[j] = b.Value(c, r)
		}
		data[c] = vals
	}
	return recordbatch.New(recordbatch.NewSchema(defs...), len(rows), data)
}
