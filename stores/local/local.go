// Package local implements store.Store over a codec.Codec writing to the
// local filesystem, the simplest of the three Store variants spec §6
// lists: one writer, no pool, no mirror-deletion protocol.
package local

import (
	"context"
	"sync"
	"time"

	"hygge.dev/blobio/localfs"
	"hygge.dev/codec"
	"hygge.dev/ferrors"
	"hygge.dev/recordbatch"
	"hygge.dev/store"
	"hygge.dev/store/staging"
)

// Config configures a local-file Store; Polish is accepted but not acted
// on here, since column normalization is an external-collaborator concern
// this module does not implement.
type Config struct {
	Path          string
	Format        string
	BatchSize     int
	FilePattern   string
	FormatOptions map[string]string
	Polish        bool
}

// Store buffers rows until Config.BatchSize is reached, then flushes one
// staged artifact via Codec.Write and promotes on Finish.
type Store struct {
	cfg        Config
	codec      codec.Codec
	tracker    *staging.Tracker
	flowName   string

	mu      sync.Mutex
	buffer  *recordbatch.RecordBatch
	runTime string
}

var _ store.Store = (*Store)(nil)

// New returns a Store writing entityName artifacts under cfg.Path using c
// to serialize each flushed chunk. flowName feeds the {flow_name} file
// pattern field; it may be empty.
func New(cfg Config, entityName, flowName string, c codec.Codec) *Store {
	pattern := cfg.FilePattern
	if pattern == "" {
		pattern = c.DefaultPattern()
	}
	return &Store{
		cfg:      cfg,
		codec:    c,
		flowName: flowName,
		tracker:  staging.New(localfs.New(), cfg.Path, entityName, pattern, c.SuffixFor()),
	}
}

func (s *Store) ConfigureForRun(runType store.RunType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.ConfigureForRun(runType == store.RunTypeFullDrop)
	s.buffer = nil
	s.runTime = time.Now().UTC().Format("20060102T150405Z")
}

// BeforeFlowStart reconciles the staging tracker's sequence counter
// against whatever artifacts already exist at the final path (spec §4.6
// step 2); this variant has no mirror-deletion protocol to run.
func (s *Store) BeforeFlowStart(ctx context.Context) error {
	return s.tracker.Reconcile(ctx)
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

func (s *Store) flush(ctx context.Context, chunk *recordbatch.RecordBatch) error {
	stagingPath, finalPath, err := s.tracker.NextPaths(s.flowName, s.runTime)
	if err != nil {
		return err
	}
	if err := s.codec.Write(ctx, chunk, stagingPath, s.cfg.FormatOptions); err != nil {
		return ferrors.NewSinkError("writing staged artifact "+stagingPath, err)
	}
	return s.tracker.RecordWritten(ctx, stagingPath, finalPath)
}

// Finish flushes any residual buffered rows and promotes every staged
// artifact to final in ascending sequence order.
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

// Close is the idempotent finish-plus-cleanup variant spec §4.6 names;
// safe to call after Finish and on every Flow exit path, including one
// where Finish already failed.
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
