// Package progress tracks per-run row counters and renders the
// milestone/summary log lines a Coordinator emits, adapted from the
// original's milestone-interval progress messages and end-of-run
// summaries into a thread-safe Go tracker plus a RunSummary aggregator.
package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"hygge.dev/logging"
)

var log = logging.New("progress")

// DefaultMilestoneInterval matches the original's default of logging once
// per million rows processed.
const DefaultMilestoneInterval = 1_000_000

// Tracker accumulates row counts for one Flow run and logs a line every
// time the running total crosses a milestone boundary.
type Tracker struct {
	mu                sync.Mutex
	milestoneInterval int64
	totalRows         int64
	lastMilestone     int64
	startedAt         time.Time
	step              string
	flowName          string
}

// NewTracker returns a Tracker for flowName using the default milestone
// interval. Use WithMilestoneInterval to override it.
func NewTracker(flowName string) *Tracker {
	return &Tracker{milestoneInterval: DefaultMilestoneInterval, flowName: flowName}
}

// WithMilestoneInterval overrides the default 1,000,000-row milestone
// spacing; returns the receiver for chaining.
func (t *Tracker) WithMilestoneInterval(interval int64) *Tracker {
	t.milestoneInterval = interval
	return t
}

// Start resets the tracker's counters and marks the run's start time.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Now()
	t.totalRows = 0
	t.lastMilestone = 0
}

// SetStep records the current narrative step (e.g. "reading", "writing")
// included in milestone log lines.
func (t *Tracker) SetStep(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step = step
}

// Mark adds rows to the running total, logging a milestone line each time
// the total crosses another multiple of the milestone interval.
func (t *Tracker) Mark(rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRows += int64(rows)
	for t.totalRows >= t.lastMilestone+t.milestoneInterval {
		t.lastMilestone += t.milestoneInterval
		elapsed := time.Since(t.startedAt)
		if elapsed <= 0 {
			continue
		}
		rate := float64(t.lastMilestone) / elapsed.Seconds()

		entry := log.WithField("flow_name", t.flowName).
			WithField("rows", t.lastMilestone).
			WithField("elapsed", elapsed.Round(100 * time.Millisecond).String())
		if t.step != "" {
			entry = entry.WithField("step", t.step)
		}
		entry.Infof("processed %s rows (%s rows/s)",
			humanize.Comma(t.lastMilestone), humanize.Comma(int64(rate)))
	}
}

// Summary is a snapshot of one Flow run's row-level outcome.
type Summary struct {
	FlowName string
	Status   string // "pass", "fail", or "skip"
	Rows     int64
	Duration time.Duration
	Error    string
}

// Snapshot returns the tracker's current row count and elapsed time as a
// Summary with the given status and optional error.
func (t *Tracker) Snapshot(status string, runErr error) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		FlowName: t.flowName,
		Status:   status,
		Rows:     t.totalRows,
		Duration: time.Since(t.startedAt),
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return s
}

// RunSummary aggregates the per-Flow Summary values from one Coordinator
// run and renders the hygge-style final report.
type RunSummary struct {
	Flows   []Summary
	Elapsed time.Duration
}

// Render produces the multi-line summary text a Coordinator logs at the
// end of a run: totals, pass/fail/skip counts, overall throughput, and a
// per-flow breakdown of any failures.
func (r RunSummary) Render() string {
	if len(r.Flows) == 0 {
		return ""
	}

	var totalRows int64
	var passed, failed, skipped int
	for _, f := range r.Flows {
		totalRows += f.Rows
		switch f.Status {
		case "pass":
			passed++
		case "fail":
			failed++
		case "skip":
			skipped++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Finished running %d flows in %s.\n", len(r.Flows), r.Elapsed.Round(10*time.Millisecond))

	if failed == 0 {
		b.WriteString("Completed successfully.\n")
	} else {
		b.WriteString("Completed with errors.\n")
	}

	if failed == 0 && skipped == 0 {
		noun := "flows"
		if passed == 1 {
			noun = "flow"
		}
		fmt.Fprintf(&b, "%d %s passed.\n", passed, noun)
	} else {
		var parts []string
		if passed > 0 {
			parts = append(parts, fmt.Sprintf("%d passed", passed))
		}
		if failed > 0 {
			parts = append(parts, fmt.Sprintf("%d failed", failed))
		}
		if skipped > 0 {
			parts = append(parts, fmt.Sprintf("%d skipped", skipped))
		}
		fmt.Fprintf(&b, "%s (%d total).\n", strings.Join(parts, ", "), len(r.Flows))
	}

	if totalRows > 0 {
		fmt.Fprintf(&b, "Total rows processed: %s\n", humanize.Comma(totalRows))
		if r.Elapsed > 0 {
			rate := float64(totalRows) / r.Elapsed.Seconds()
			fmt.Fprintf(&b, "Overall rate: %s rows/s\n", humanize.Comma(int64(rate)))
		}
	}

	if failed > 0 {
		b.WriteString("Failed flows:\n")
		for _, f := range r.Flows {
			if f.Status == "fail" {
				msg := f.Error
				if msg == "" {
					msg = "unknown error"
				}
				fmt.Fprintf(&b, "  %s: %s\n", f.FlowName, msg)
			}
		}
	}

	return b.String()
}

// Log renders the summary and emits it through the shared logger, one
// line at a time so each line carries consistent structured fields.
func (r RunSummary) Log() {
	rendered := r.Render()
	for _, line := range strings.Split(strings.TrimRight(rendered, "\n"), "\n") {
		if line == "" {
			continue
		}
		log.Info(line)
	}
}
