// Package store defines the sink contract a Flow's consumer task drives
// (spec §4.6): configure_for_run, before_flow_start, write, finish, and
// close, plus the staging/promotion protocol every concrete Store
// implements the same way regardless of backend.
package store

import (
	"context"
	"strconv"

	"hygge.dev/recordbatch"
)

// RunType mirrors config.RunType without importing the config package,
// keeping store free of the format-neutral configuration layer's own
// dependency surface.
type RunType string

const (
	RunTypeFullDrop    RunType = "full_drop"
	RunTypeIncremental RunType = "incremental"
)

// Store is the write side of a Flow.
type Store interface {
	// ConfigureForRun resets per-run state (sequence counters, saved
	// staging paths, mirror bookkeeping) and records the run's type.
	ConfigureForRun(runType RunType)

	// BeforeFlowStart runs exactly once before the first Write. Stores
	// with a mirror-deletion protocol perform it here.
	BeforeFlowStart(ctx context.Context) error

	// Write buffers batch, flushing a staged artifact whenever the
	// buffer reaches batch_size rows.
	Write(ctx context.Context, batch *recordbatch.RecordBatch) error

	// Finish flushes any residual buffered rows, promotes every staged
	// artifact to final, and releases driver resources. On a partial
	// promotion failure it returns the not-yet-promoted staging paths.
	Finish(ctx context.Context) error

	// Close is the idempotent variant of Finish plus staging cleanup; it
	// is safe to call after Finish and must run on every Flow exit path.
	Close(ctx context.Context) error

	// ResetRetrySensitiveState clears the buffer, sequence counter, and
	// saved staging paths, invoked by the retry wrapper before retrying
	// a failed Write.
	ResetRetrySensitiveState()
}

// DeletionMetrics accumulates the mirror-deletion protocol's counters
// (spec §4.8) for the end-of-run summary. Stores without a mirror
// variant simply never populate it.
type DeletionMetrics struct {
	ColumnBasedDeletions int64
	QueryBasedDeletions  int64
}

// PromotionError is returned by Finish/Close when one or more staged
// artifacts could not be promoted to final; UnpromotedPaths lets a
// caller retry deterministically in ascending sequence order.
type PromotionError struct {
	UnpromotedPaths []string
	Cause           error
}

func (e *PromotionError) Error() string {
	return "store: partial promotion failure, " + strconv.Itoa(len(e.UnpromotedPaths)) + " artifact(s) remain staged: " + e.Cause.Error()
}

func (e *PromotionError) Unwrap() error { return e.Cause }
