// Package watermark tracks the high-water mark of an incremental flow run:
// at most one (type, value) pair, updated pairwise-max across batches and
// serialized into the form the journal persists (spec §4.3).
package watermark

import (
	"fmt"
	"strconv"
	"time"

	"hygge.dev/ferrors"
	"hygge.dev/logging"
	"hygge.dev/recordbatch"
)

var log = logging.New("watermark")

// Tracker holds the running maximum watermark value for one flow run. Not
// safe for concurrent use; a Flow owns exactly one Tracker per run.
type Tracker struct {
	column string
	kind   recordbatch.Kind
	value  any
	seen   bool
}

// NewTracker returns a Tracker watching column.
func NewTracker(column string) *Tracker {
	return &Tracker{column: column}
}

// ValidateSchema fails fast if primaryKey (when non-empty) or the watermark
// column is absent from schema, or if the watermark column's type is
// unsupported for comparison.
func (t *Tracker) ValidateSchema(schema *recordbatch.Schema, primaryKey string) error {
	if primaryKey != "" && !schema.Has(primaryKey) {
		return ferrors.NewConfigError(fmt.Sprintf("primary key column %q not present in schema", primaryKey), nil)
	}
	kind, ok := schema.TypeOf(t.column)
	if !ok {
		return ferrors.NewConfigError(fmt.Sprintf("watermark column %q not present in schema", t.column), nil)
	}
	switch kind.Kind {
	case recordbatch.KindInt, recordbatch.KindString, recordbatch.KindDatetime:
		return nil
	default:
		return ferrors.NewConfigError(fmt.Sprintf("watermark column %q has unsupported logical type %s", t.column, kind), nil)
	}
}

// Update scans batch's watermark column and advances the tracker to the
// pairwise maximum, ignoring an all-null column. A type change after the
// first observed batch is logged at warn and the earlier type wins; it
// never fails the run.
func (t *Tracker) Update(batch *recordbatch.RecordBatch) {
	col, ok := batch.Column(t.column)
	if !ok {
		return
	}
	kind, _ := batch.Schema().TypeOf(t.column)

	for _, v := range col {
		if v == nil {
			continue
		}
		if t.seen && kind.Kind != t.kind {
			log.WithField("column", t.column).
				WithField("previous_type", t.kind.String()).
				WithField("new_type", kind.String()).
				Warn("watermark column type changed mid-run; keeping earlier type")
			// Values of the reported-but-mismatched type are skipped
			// rather than compared against the established type.
			continue
		}
		if !t.seen {
			t.kind = kind.Kind
			t.value = v
			t.seen = true
			continue
		}
		if greater(t.kind, v, t.value) {
			t.value = v
		}
	}
}

func greater(kind recordbatch.Kind, a, b any) bool {
	return GreaterThan(kind, a, b)
}

// GreaterThan compares two values of the same watermark-eligible kind
// (int, string, or datetime), the same type-specific comparison spec §4.5
// requires of read_with_watermark implementations: ints numerically,
// datetimes as UTC instants, strings lexicographically. Exported so Home
// implementations can apply the identical comparison client-side when
// their underlying medium cannot push the filter down to a query.
func GreaterThan(kind recordbatch.Kind, a, b any) bool {
	switch kind {
	case recordbatch.KindInt:
		return toInt64(a) > toInt64(b)
	case recordbatch.KindString:
		return a.(string) > b.(string)
	case recordbatch.KindDatetime:
		return a.(time.Time).After(b.(time.Time))
	default:
		return false
	}
}

// ParseSerialized parses a serialized watermark value (the textual form
// Tracker.Serialize produces) back into a comparable Go value for the
// given kind.
func ParseSerialized(kind recordbatch.Kind, serialized string) (any, error) {
	switch kind {
	case recordbatch.KindInt:
		n, err := strconv.ParseInt(serialized, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing int watermark %q: %w", serialized, err)
		}
		return n, nil
	case recordbatch.KindDatetime:
		t, err := time.Parse(time.RFC3339Nano, serialized)
		if err != nil {
			return nil, fmt.Errorf("parsing datetime watermark %q: %w", serialized, err)
		}
		return t, nil
	case recordbatch.KindString:
		return serialized, nil
	default:
		return nil, fmt.Errorf("unsupported watermark kind %s", kind)
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		panic(fmt.Sprintf("watermark: unsupported int representation %T", v))
	}
}

// HasValue reports whether the tracker has observed any non-null value.
func (t *Tracker) HasValue() bool { return t.seen }

// Serialize renders the current value the way the journal persists it:
// datetimes as RFC 3339 with offset preserved, ints and strings in their
// natural textual form. Returns ("", false) if no value was ever observed.
func (t *Tracker) Serialize() (string, bool) {
	if !t.seen {
		return "", false
	}
	switch t.kind {
	case recordbatch.KindDatetime:
		return t.value.(time.Time).Format(time.RFC3339Nano), true
	case recordbatch.KindInt:
		return strconv.FormatInt(toInt64(t.value), 10), true
	case recordbatch.KindString:
		return t.value.(string), true
	default:
		return fmt.Sprintf("%v", t.value), true
	}
}
