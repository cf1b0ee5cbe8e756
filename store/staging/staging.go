// Package staging implements the staging/promotion protocol spec §4.6
// describes as "the central invariant" of every Store variant: derive a
// filename, write to a _tmp staging location, verify, and promote on
// finish in sequence order. stores/local and stores/blob both build on
// this instead of re-implementing it; stores/database writes rows
// directly and does not use it.
package staging

import (
	"context"
	"strconv"

	"hygge.dev/blobio"
	"hygge.dev/ferrors"
	"hygge.dev/logging"
	"hygge.dev/pathutil"
	"hygge.dev/store"
)

var log = logging.New("store/staging")

// Tracker owns the sequence counter and saved-path bookkeeping one Store
// instance needs across its run; it is not safe for concurrent use
// without external synchronization (a Store serializes Writes itself).
type Tracker struct {
	backend    blobio.Backend
	finalBase  string
	entityName string
	pattern    string
	suffix     string

	sequence   int
	savedPaths []pair
	fullDrop   bool
}

type pair struct {
	staging string
	final   string
}

// New returns a Tracker that writes into finalBase (substituting
// {entity} with entityName), naming files from pattern (or
// pathutil.DefaultPattern if empty) with suffix appended.
func New(backend blobio.Backend, finalBase, entityName, pattern, suffix string) *Tracker {
	if pattern == "" {
		pattern = pathutil.DefaultPattern
	}
	return &Tracker{
		backend:    backend,
		finalBase:  pathutil.SubstituteEntity(finalBase, entityName),
		entityName: entityName,
		pattern:    pattern,
		suffix:     suffix,
	}
}

// ConfigureForRun resets all per-run state: sequence counter, saved
// staging paths, and full_drop_mode, per spec §4.6's configure_for_run.
func (t *Tracker) ConfigureForRun(fullDrop bool) {
	t.sequence = 0
	t.savedPaths = nil
	t.fullDrop = fullDrop
}

// ResetRetrySensitiveState clears the buffer-adjacent state a retried
// Write must not inherit: sequence counter and saved staging paths
// (spec §4.6 step 6). Does not touch full_drop_mode, which is a
// per-run configuration value, not retry-sensitive state.
func (t *Tracker) ResetRetrySensitiveState() {
	t.sequence = 0
	t.savedPaths = nil
}

// Reconcile scans finalBase for the highest existing sequence number
// among filenames matching pattern and continues from max+1 (spec §4.6
// step 2), run once before the first flush of a Store's lifetime.
func (t *Tracker) Reconcile(ctx context.Context) error {
	names, err := t.backend.List(ctx, t.finalBase)
	if err != nil {
		return ferrors.NewSourceError("scanning final directory to reconcile sequence counter", err)
	}
	max := -1
	for _, name := range names {
		if n, ok := extractSequence(pathutil.Filename(name)); ok && n > max {
			max = n
		}
	}
	if max >= 0 {
		// NextPaths pre-increments before rendering, so leaving the
		// counter at max (not max+1) makes the next produced sequence
		// number max+1.
		t.sequence = max
	}
	return nil
}

// extractSequence pulls the first run of digits at least 3 characters
// long out of a filename, a heuristic tolerant of arbitrary prefixes and
// suffixes around the zero-padded sequence segment.
func extractSequence(filename string) (int, bool) {
	start := -1
	for i, r := range filename {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if i-start >= 3 {
				break
			}
			start = -1
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(filename) && filename[end] >= '0' && filename[end] <= '9' {
		end++
	}
	if end-start < 3 {
		return 0, false
	}
	n, err := strconv.Atoi(filename[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextPaths derives the (staging, final) path pair for the next artifact
// and advances the sequence counter. flowName and timestamp feed the
// {flow_name}/{timestamp} pattern fields; callers without a meaningful
// value for either pass an empty string.
func (t *Tracker) NextPaths(flowName, timestamp string) (staging, final string, err error) {
	// Pre-increment: the first artifact of a fresh run is sequence 1, not
	// 0, matching get_next_filename's self.sequence_counter += 1 before
	// formatting.
	t.sequence++
	filename, err := pathutil.RenderFilePattern(t.pattern, pathutil.PatternFields{
		Name:      t.entityName,
		FlowName:  flowName,
		Timestamp: timestamp,
		Sequence:  t.sequence,
	})
	if err != nil {
		return "", "", err
	}
	filename += t.suffix

	final = pathutil.BuildFinalPath(t.finalBase, filename)
	staging, err = pathutil.BuildStagingPath(t.finalBase, t.entityName, filename)
	if err != nil {
		return "", "", err
	}
	return staging, final, nil
}

// RecordWritten verifies the artifact exists at stagingPath and appends
// it to the saved-paths list for later promotion (spec §4.6 step 4).
func (t *Tracker) RecordWritten(ctx context.Context, stagingPath, finalPath string) error {
	exists, err := t.backend.Exists(ctx, stagingPath)
	if err != nil {
		return ferrors.NewSinkError("verifying staged artifact "+stagingPath, err)
	}
	if !exists {
		return ferrors.NewSinkError("staged artifact "+stagingPath+" missing immediately after write", nil)
	}
	t.savedPaths = append(t.savedPaths, pair{staging: stagingPath, final: finalPath})
	return nil
}

// Promote moves every saved staging artifact to its final location in
// ascending sequence order (spec §4.6 step 5 and the "Promotion order on
// a partial finish() failure" resolution). If full_drop_mode is set, the
// final entity directory is truncated before the first promotion. On a
// mid-sequence failure, already-promoted artifacts are dropped from the
// saved list and the error reports the remaining unpromoted staging
// paths so a caller can retry deterministically.
func (t *Tracker) Promote(ctx context.Context) error {
	if len(t.savedPaths) == 0 {
		return nil
	}
	if t.fullDrop {
		if err := t.backend.DeleteDirectory(ctx, t.finalBase, true); err != nil {
			return ferrors.NewSinkError("truncating final directory before full-drop promotion", err)
		}
		t.fullDrop = false
	}

	promoted := 0
	for _, p := range t.savedPaths {
		if err := t.backend.Move(ctx, p.staging, p.final); err != nil {
			remaining := t.savedPaths[promoted:]
			t.savedPaths = remaining
			paths := make([]string, len(remaining))
			for i, r := range remaining {
				paths[i] = r.staging
			}
			return &store.PromotionError{UnpromotedPaths: paths, Cause: err}
		}
		promoted++
	}
	t.savedPaths = nil
	return nil
}

// CleanupStaging removes every not-yet-promoted staging artifact; used by
// Close to discard a failed or abandoned run's leftovers. Failures here
// are logged at warn and do not propagate, matching spec §4.8 step 5's
// "do not fail the flow" treatment of best-effort staging cleanup.
func (t *Tracker) CleanupStaging(ctx context.Context) {
	for _, p := range t.savedPaths {
		if err := t.backend.Delete(ctx, p.staging); err != nil {
			log.WithField("path", p.staging).WithError(err).Warn("failed to clean up abandoned staging artifact")
		}
	}
	t.savedPaths = nil
}

// PendingCount reports how many artifacts are currently staged but not
// yet promoted, used by tests and by Store.Finish to decide whether a
// PromotionError should be raised.
func (t *Tracker) PendingCount() int { return len(t.savedPaths) }
