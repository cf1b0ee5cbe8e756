// Package runid computes the deterministic run-identifier hashes spec §3
// defines for a JournalEntry's composite key: a 32-character hex digest of
// "|"-joined components, SHA-256'd. A Coordinator run produces three
// related but distinct IDs by hashing successively longer component
// lists (coordinator name and timestamp; then the flow name as well; then
// the entity name as well), each the first 32 hex characters of SHA-256
// over its own joined components.
package runid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const length = 32

// New hashes components into the 32-character hex run ID, the shared
// primitive every exported constructor below calls with a specific
// component list.
func New(components ...string) string {
	joined := strings.Join(components, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:length]
}

// Coordinator returns the ID identifying one Coordinator run, shared by
// every Flow started within it.
func Coordinator(coordinatorName, startTimestamp string) string {
	return New(coordinatorName, startTimestamp)
}

// Flow returns the ID identifying one Flow's run within a Coordinator run.
func Flow(coordinatorName, flowName, startTimestamp string) string {
	return New(coordinatorName, flowName, startTimestamp)
}

// Entity returns the ID identifying one Flow's run against one entity,
// the finest-grained of the three and the component list a JournalEntry
// is ultimately keyed on alongside the coordinator and flow IDs.
func Entity(coordinatorName, flowName, entityName, startTimestamp string) string {
	return New(coordinatorName, flowName, entityName, startTimestamp)
}
