// Package journalmem is an in-memory Journal backend, used by tests and by
// single-process embeddings that don't need cross-process durability.
package journalmem

import (
	"sync"
	"time"

	"hygge.dev/journal"
)

type key struct {
	flowName   string
	entityName string
}

// Journal is a thread-safe, process-local journal.Journal implementation.
type Journal struct {
	mu      sync.RWMutex
	entries []journal.Entry
	last    map[key]journal.Entry
}

// New returns an empty in-memory journal.
func New() *Journal {
	return &Journal{last: make(map[key]journal.Entry)}
}

func (j *Journal) BeginRun(ids journal.RunIDs, flowName, entityName, runType string, startedAt time.Time) (journal.Entry, error) {
	entry := journal.Entry{
		RunIDs:     ids,
		FlowName:   flowName,
		EntityName: entityName,
		RunType:    runType,
		StartedAt:  startedAt,
		Status:     journal.StatusRunning,
	}
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
	return entry, nil
}

func (j *Journal) CompleteRun(entry journal.Entry, status journal.Status, serializedWatermark string, hasWatermark bool, rowCount int64, runErr error) error {
	entry.FinishedAt = time.Now()
	entry.Status = status
	entry.SerializedWatermark = serializedWatermark
	entry.HasWatermark = hasWatermark
	entry.RowCount = rowCount
	if runErr != nil {
		entry.Error = runErr.Error()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].RunIDs == entry.RunIDs {
			j.entries[i] = entry
			break
		}
	}
	if status == journal.StatusOK && hasWatermark {
		k := key{flowName: entry.FlowName, entityName: entry.EntityName}
		if prev, ok := j.last[k]; !ok || entry.StartedAt.After(prev.StartedAt) {
			j.last[k] = entry
		}
	}
	return nil
}

func (j *Journal) LastSuccessfulWatermark(flowName, entityName string) (string, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	entry, ok := j.last[key{flowName: flowName, entityName: entityName}]
	if !ok {
		return "", false, nil
	}
	return entry.SerializedWatermark, true, nil
}

func (j *Journal) Close() error { return nil }

// Entries returns a defensive copy of every entry recorded so far, in
// BeginRun order; useful for test assertions.
func (j *Journal) Entries() []journal.Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]journal.Entry, len(j.entries))
	copy(out, j.entries)
	return out
}
