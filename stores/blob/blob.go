// Package blob implements store.Store over a blobio.Backend, the object-
// store (mirror) variant spec §6 names. Beyond the staging/promotion
// protocol it shares with stores/local, this variant can run the mirror-
// deletion protocol from spec §4.8 when KeyColumns and a deletion-target
// home.KeyFinder are configured. Backend-specific wiring (S3, ADLS-Gen2)
// lives in the s3blob and adlsblob sub-packages; this package only needs
// blobio.Backend.
package blob

import (
	"context"
	"sync"
	"time"

	"hygge.dev/blobio"
	"hygge.dev/codec"
	"hygge.dev/ferrors"
	"hygge.dev/home"
	"hygge.dev/recordbatch"
	"hygge.dev/store"
	"hygge.dev/store/staging"
)

// Config configures a blob Store. Compression is passed through to the
// codec as a format option rather than interpreted here (spec §1 leaves
// format codecs an external collaborator).
type Config struct {
	Path          string
	BatchSize     int
	FilePattern   string
	Compression   string
	FormatOptions map[string]string
	// Incremental mirrors the configuration surface spec §6 names for
	// this variant; the Store itself derives full-drop-vs-incremental
	// deletion behavior from the run_type passed to ConfigureForRun, the
	// single source of truth the rest of the package also uses, so this
	// field is accepted for shape-compatibility but not read here.
	Incremental bool
	KeyColumns  []string
	RowMarker     string
	MirrorName    string
}

// Store writes entity artifacts through a blobio.Backend and, when
// configured for mirror deletion, runs the column- or query-based
// deletion protocol from its BeforeFlowStart.
type Store struct {
	cfg      Config
	codec    codec.Codec
	tracker  *staging.Tracker
	flowName string

	// sourceHome supplies source keys for query-based (incremental)
	// deletion; deletionTarget supplies the mirror's own current keys for
	// both full-drop and query-based deletion. Either may be nil when the
	// mirror-deletion protocol is not configured for this Flow.
	sourceHome    home.Home
	deletionTarget home.KeyFinder

	mu       sync.Mutex
	buffer   *recordbatch.RecordBatch
	runTime  string
	fullDrop bool

	metricsMu sync.Mutex
	metrics   store.DeletionMetrics
}

var _ store.Store = (*Store)(nil)

// New returns a Store writing entityName artifacts under cfg.Path via
// backend, serialized with c. sourceHome and deletionTarget may both be
// nil when no mirror-deletion protocol applies to this Flow;
// deletionTarget is typically a homes/database.Home pointed at the
// deletion_source configuration, sourceHome the Flow's own Home.
func New(cfg Config, entityName, flowName string, backend blobio.Backend, c codec.Codec, sourceHome home.Home, deletionTarget home.KeyFinder) *Store {
	pattern := cfg.FilePattern
	if pattern == "" {
		pattern = c.DefaultPattern()
	}
	return &Store{
		cfg:            cfg,
		codec:          c,
		flowName:       flowName,
		tracker:        staging.New(backend, cfg.Path, entityName, pattern, c.SuffixFor()),
		sourceHome:     sourceHome,
		deletionTarget: deletionTarget,
	}
}

func (s *Store) ConfigureForRun(runType store.RunType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.ConfigureForRun(runType == store.RunTypeFullDrop)
	s.buffer = nil
	s.fullDrop = runType == store.RunTypeFullDrop
	s.runTime = time.Now().UTC().Format("20060102T150405Z")

	s.metricsMu.Lock()
	s.metrics = store.DeletionMetrics{}
	s.metricsMu.Unlock()
}

// DeletionMetrics returns the accumulated column- and query-based
// deletion counters for the current run, for the end-of-run summary.
func (s *Store) DeletionMetrics() store.DeletionMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.metrics
}

// BeforeFlowStart reconciles the staging sequence counter and, if
// KeyColumns is configured, reserves the lowest sequence slot for a
// deletion artifact before any row inserts (spec §4.8): full_drop runs
// mark every key currently in the mirror target for deletion; incremental
// runs compute target_keys \ source_keys via an anti-join.
func (s *Store) BeforeFlowStart(ctx context.Context) error {
	if err := s.tracker.Reconcile(ctx); err != nil {
		return err
	}
	if len(s.cfg.KeyColumns) == 0 || s.deletionTarget == nil {
		return nil
	}

	targetKeys, err := s.deletionTarget.FindKeys(ctx, s.cfg.KeyColumns)
	if err != nil {
		return ferrors.NewConfigError("querying mirror target for current keys", err)
	}
	if targetKeys.RowCount() == 0 {
		return ferrors.NewConfigError("cannot infer key column types from an empty mirror target", nil)
	}

	if s.fullDrop {
		marker := recordbatch.NewDeletionMarker(targetKeys, s.cfg.KeyColumns)
		s.addMetric(false, marker.RowCount())
		return s.flush(ctx, marker)
	}

	kf, ok := s.sourceHome.(home.KeyFinder)
	if !ok {
		return ferrors.NewConfigError("source Home does not support key finding, required for query-based deletion detection", nil)
	}
	sourceKeys, err := kf.FindKeys(ctx, s.cfg.KeyColumns)
	if err != nil {
		return err
	}
	deletions := AntiJoinKeys(targetKeys, sourceKeys, s.cfg.KeyColumns, s.cfg.BatchSize)
	if deletions.RowCount() == 0 {
		return nil
	}
	marker := recordbatch.NewDeletionMarker(deletions, s.cfg.KeyColumns)
	s.addMetric(true, marker.RowCount())
	return s.flush(ctx, marker)
}

func (s *Store) addMetric(queryBased bool, rows int) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	if queryBased {
		s.metrics.QueryBasedDeletions += int64(rows)
	} else {
		s.metrics.ColumnBasedDeletions += int64(rows)
	}
}

func (s *Store) Write(ctx context.Context, batch *recordbatch.RecordBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.RowCount() == 0 {
		return nil
	}
	if s.buffer == nil {
		s.buffer = batch
	} else {
		s.buffer = recordbatch.Concat(s.buffer, batch)
	}

	for s.buffer.RowCount() >= s.cfg.BatchSize {
		chunk := s.buffer.Slice(0, s.cfg.BatchSize)
		if err := s.flush(ctx, chunk); err != nil {
			return err
		}
		s.buffer = s.buffer.Slice(s.cfg.BatchSize, s.buffer.RowCount())
	}
	return nil
}

// flush writes chunk (a regular row batch, or a deletion-marker batch
// reserved ahead of any inserts) as its own staged artifact. Deletion
// markers never merge into the row buffer: their schema differs
// (key columns plus the reserved row-marker column), so they always flush
// immediately rather than waiting for batch_size.
func (s *Store) flush(ctx context.Context, chunk *recordbatch.RecordBatch) error {
	stagingPath, finalPath, err := s.tracker.NextPaths(s.flowName, s.runTime)
	if err != nil {
		return err
	}
	options := s.cfg.FormatOptions
	if s.cfg.Compression != "" {
		options = mergeOption(options, "compression", s.cfg.Compression)
	}
	if err := s.codec.Write(ctx, chunk, stagingPath, options); err != nil {
		return ferrors.NewSinkError("writing staged artifact "+stagingPath, err)
	}
	return s.tracker.RecordWritten(ctx, stagingPath, finalPath)
}

func mergeOption(options map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(options)+1)
	for k, v := range options {
		out[k] = v
	}
	out[key] = value
	return out
}

// Finish flushes any residual buffered rows and promotes every staged
// artifact — including a reserved deletion marker, which always carries
// the lowest sequence number — to final in ascending sequence order.
func (s *Store) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer != nil && s.buffer.RowCount() > 0 {
		if err := s.flush(ctx, s.buffer); err != nil {
			return err
		}
		s.buffer = nil
	}
	return s.tracker.Promote(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	err := s.Finish(ctx)
	s.tracker.CleanupStaging(ctx)
	return err
}

func (s *Store) ResetRetrySensitiveState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.ResetRetrySensitiveState()
	s.buffer = nil
}
