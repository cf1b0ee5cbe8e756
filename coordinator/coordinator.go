// Package coordinator implements the Coordinator (spec §4.9): an ordered
// collection of Flow configurations run under a global max_concurrent
// cap, with run-ID generation, per-Flow result collection, and a dry-run
// preview mode. Adapted from the teacher's coordinator package: the same
// lifecycle shape (a Config struct, a constructor, a goroutine-plus-
// WaitGroup run loop with cooperative ctx cancellation) carries over, but
// the WebSocket orchestration protocol the teacher built it around
// (coordinator/{loghook,messages,phases}.go) has no equivalent in this
// domain and is discarded entirely in favor of the bounded-concurrency
// fan-out spec §4.9 and §5 describe.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hygge.dev/config"
	"hygge.dev/ferrors"
	"hygge.dev/flow"
	"hygge.dev/journal"
	"hygge.dev/logging"
	"hygge.dev/progress"
	"hygge.dev/runid"
)

var log = logging.New("coordinator")

// Config configures a Coordinator run.
type Config struct {
	// Name identifies this Coordinator, folded into every run ID it
	// generates.
	Name string
	// MaxConcurrent bounds how many Flows run simultaneously; default 1
	// if zero or negative.
	MaxConcurrent int
	// ContinueOnError: false (default) means the first Flow failure
	// cancels every not-yet-started Flow; true means failures are
	// logged and the remaining Flows still run.
	ContinueOnError bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	return c
}

// Entry pairs one Flow's configuration with the already-constructed Flow
// that runs it. Config carries the data a dry run renders without
// touching Flow at all, since spec §4.9's dry-run mode must never open a
// resource connection.
type Entry struct {
	Config config.FlowConfig
	Flow   *flow.Flow
}

// Coordinator owns an ordered collection of Flow entries and runs them
// under a global concurrency cap.
type Coordinator struct {
	cfg     Config
	entries []Entry
	journal journal.Journal
}

// New returns a Coordinator over entries, in declaration order. journal is
// used to record a skipped entry for any Flow cancelled before it starts;
// it is typically the same Journal each Entry.Flow was itself constructed
// with.
func New(cfg Config, j journal.Journal, entries []Entry) *Coordinator {
	return &Coordinator{cfg: cfg.withDefaults(), entries: entries, journal: j}
}

// Run executes every Flow to completion or cancellation, starting Flows in
// declaration order with at most Config.MaxConcurrent active
// simultaneously (spec §4.9, step 3), and returns the aggregated summary
// (step 4).
func (c *Coordinator) Run(ctx context.Context) progress.RunSummary {
	started := time.Now()
	startTimestamp := started.UTC().Format(time.RFC3339Nano)
	coordinatorRunID := runid.Coordinator(c.cfg.Name, startTimestamp)

	runCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	results := make([]flow.Result, len(c.entries))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, entry := range c.entries {
		select {
		case <-runCtx.Done():
			results[i] = c.skip(entry, coordinatorRunID, startTimestamp)
			continue
		default:
		}

		select {
		case <-runCtx.Done():
			results[i] = c.skip(entry, coordinatorRunID, startTimestamp)
			continue
		case sem <- struct{}{}:
		}

		// The blocking select above can race a concurrent cancellation
		// against acquiring a semaphore slot freed by the flow that
		// triggered it; re-check before committing to launch so a flow
		// never starts after the run has already been cancelled.
		if runCtx.Err() != nil {
			<-sem
			results[i] = c.skip(entry, coordinatorRunID, startTimestamp)
			continue
		}

		wg.Add(1)
		go func(i int, entry Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			runIDs := journal.RunIDs{
				CoordinatorRunID: coordinatorRunID,
				FlowRunID:        runid.Flow(c.cfg.Name, entry.Config.Name, startTimestamp),
				EntityRunID:      runid.Entity(c.cfg.Name, entry.Config.Name, entityName(entry.Config), startTimestamp),
			}

			result := entry.Flow.Run(runCtx, runIDs)

			mu.Lock()
			results[i] = result
			mu.Unlock()

			if result.Err != nil {
				log.WithField("flow_name", entry.Config.Name).WithError(result.Err).
					Error("flow run finished with an error")
				if !c.cfg.ContinueOnError {
					cancelAll()
				}
			}
		}(i, entry)
	}

	wg.Wait()

	summary := progress.RunSummary{Elapsed: time.Since(started)}
	for _, r := range results {
		summary.Flows = append(summary.Flows, toProgressSummary(r))
	}
	summary.Log()
	return summary
}

// skip records a journal entry for a Flow cancelled before it ever
// started, with journal.StatusSkipped (distinct from the running Flow's
// own failed/succeeded bookkeeping), and returns the Result the summary
// reports for it. Per spec §4.9, a cancelled Flow's reported status is
// "failed" with a cancellation error, even though its journal status is
// "skipped" rather than "failed" — the two are different fields at
// different layers, and only the journal enum restricts itself to
// {ok, failed, skipped}.
func (c *Coordinator) skip(entry Entry, coordinatorRunID, startTimestamp string) flow.Result {
	cause := ferrors.NewCancellationError(fmt.Sprintf("flow %q skipped: an earlier flow failed and continue_on_error is false", entry.Config.Name))

	if c.journal != nil {
		runIDs := journal.RunIDs{
			CoordinatorRunID: coordinatorRunID,
			FlowRunID:        runid.Flow(c.cfg.Name, entry.Config.Name, startTimestamp),
			EntityRunID:      runid.Entity(c.cfg.Name, entry.Config.Name, entityName(entry.Config), startTimestamp),
		}
		now := time.Now()
		beginEntry, err := c.journal.BeginRun(runIDs, entry.Config.Name, entityName(entry.Config), string(entry.Config.RunType), now)
		if err != nil {
			log.WithField("flow_name", entry.Config.Name).WithError(err).Error("failed to open journal entry for a skipped flow")
		} else if err := c.journal.CompleteRun(beginEntry, journal.StatusSkipped, "", false, 0, cause); err != nil {
			log.WithField("flow_name", entry.Config.Name).WithError(err).Error("failed to complete journal entry for a skipped flow")
		}
	}

	log.WithField("flow_name", entry.Config.Name).Warn("flow skipped: an earlier failure cancelled the run")
	return flow.Result{Name: entry.Config.Name, Status: flow.StateFailed, Err: cause}
}

// Preview is the record spec §4.9's dry-run mode renders for one Flow
// instead of running it: a description of its Home, Store, and
// incremental behavior, plus any configuration warnings, assembled
// without opening a single resource connection.
type Preview struct {
	Name            string
	HomeInfo        string
	StoreInfo       string
	IncrementalInfo string
	Warnings        []string
}

// DryRun renders a Preview per entry, in declaration order, touching
// nothing but each Entry.Config.
func (c *Coordinator) DryRun() []Preview {
	previews := make([]Preview, 0, len(c.entries))
	for _, entry := range c.entries {
		previews = append(previews, previewFlow(entry.Config))
	}
	return previews
}

func previewFlow(cfg config.FlowConfig) Preview {
	cfg = cfg.WithDefaults()
	p := Preview{Name: cfg.Name}

	p.HomeInfo = describeHome(cfg.Home)
	p.StoreInfo = describeStore(cfg.Store)
	p.IncrementalInfo, p.Warnings = describeIncremental(cfg)
	p.Warnings = append(p.Warnings, warningsForStore(cfg.Store)...)

	return p
}

func describeHome(h config.HomeSpec) string {
	switch {
	case h.Local != nil:
		return fmt.Sprintf("local file, format=%s, path=%s, batch_size=%d", h.Local.Format, h.Local.Path, h.Local.BatchSize)
	case h.Database != nil:
		if h.Database.Query != "" {
			return fmt.Sprintf("database query against %s/%s, batch_size=%d (custom query: incremental reads fall back to a full read)", h.Database.Server, h.Database.Database, h.Database.BatchSize)
		}
		return fmt.Sprintf("database table %s on %s/%s, batch_size=%d", h.Database.Table, h.Database.Server, h.Database.Database, h.Database.BatchSize)
	default:
		return "no home configured"
	}
}

func describeStore(s config.StoreSpec) string {
	switch {
	case s.Local != nil:
		return fmt.Sprintf("local file, format=%s, path=%s, batch_size=%d", s.Local.Format, s.Local.Path, s.Local.BatchSize)
	case s.Database != nil:
		return fmt.Sprintf("database table %s, write_strategy=%s, parallel_workers=%d", s.Database.Table, s.Database.WriteStrategy, s.Database.ParallelWorkers)
	case s.Blob != nil:
		if s.Blob.DeletionSource != "" {
			return fmt.Sprintf("blob path=%s, mirror of %s (deletion source %s.%s)", s.Blob.Path, s.Blob.MirrorName, s.Blob.DeletionSchema, s.Blob.DeletionTable)
		}
		return fmt.Sprintf("blob path=%s, credential=%s", s.Blob.Path, s.Blob.Credential)
	default:
		return "no store configured"
	}
}

func describeIncremental(cfg config.FlowConfig) (string, []string) {
	if cfg.RunType != config.RunTypeIncremental {
		return "full_drop: every run replaces the target entirely", nil
	}
	if cfg.Watermark == nil {
		return "incremental", []string{fmt.Sprintf("flow %q is incremental but has no watermark configuration", cfg.Name)}
	}

	info := fmt.Sprintf("incremental on watermark_column=%s", cfg.Watermark.WatermarkColumn)
	var warnings []string
	if !isSafeColumnName(cfg.Watermark.WatermarkColumn) || (cfg.Watermark.PrimaryKey != "" && !isSafeColumnName(cfg.Watermark.PrimaryKey)) {
		if cfg.Watermark.FallbackOnUnsafeName {
			warnings = append(warnings, fmt.Sprintf("flow %q: watermark or primary key column name is unsafe for predicate injection; run will fall back to a full reload", cfg.Name))
		} else {
			warnings = append(warnings, fmt.Sprintf("flow %q: watermark or primary key column name is unsafe for predicate injection and fallback is disabled; run will fail with a configuration error", cfg.Name))
		}
	}
	if cfg.Home.Database != nil && cfg.Home.Database.Query != "" {
		warnings = append(warnings, fmt.Sprintf("flow %q: home uses a custom query; incremental reads cannot safely rewrite it and will fall back to a full read", cfg.Name))
	}
	return info, warnings
}

func warningsForStore(s config.StoreSpec) []string {
	if s.Database == nil {
		return nil
	}
	switch s.Database.WriteStrategy {
	case config.WriteStrategyTempSwap, config.WriteStrategyMerge:
		return []string{fmt.Sprintf("write_strategy %q is reserved and not yet implemented; the run will fail fast with a configuration error", s.Database.WriteStrategy)}
	}
	return nil
}

func isSafeColumnName(name string) bool {
	if name == "" {
		return true
	}
	for _, part := range splitQualifiers(name) {
		if !isSafeIdentifier(part) {
			return false
		}
	}
	return true
}

func splitQualifiers(name string) []string {
	var parts []string
	start := 0
	for i, r := range name {
		if r == '.' {
			parts = append(parts, name[start:i])
			start = i + 1
		}
	}
	return append(parts, name[start:])
}

func isSafeIdentifier(part string) bool {
	if part == "" {
		return false
	}
	for i, r := range part {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func entityName(cfg config.FlowConfig) string {
	if cfg.EntityName != "" {
		return cfg.EntityName
	}
	return cfg.Name
}

func toProgressSummary(r flow.Result) progress.Summary {
	status := "fail"
	if r.Status == flow.StateSucceeded {
		status = "pass"
	}
	errMsg := ""
	if r.Err != nil {
		errMsg = r.Err.Error()
	}
	return progress.Summary{
		FlowName: r.Name,
		Status:   status,
		Rows:     r.RowCount,
		Duration: r.Duration,
		Error:    errMsg,
	}
}
