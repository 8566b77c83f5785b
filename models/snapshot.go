package models

import "time"

// SnapshotReason records what triggered a snapshot capture.
type SnapshotReason string

const (
	SnapshotManual    SnapshotReason = "manual"
	SnapshotScheduled SnapshotReason = "scheduled"
	SnapshotPreSync   SnapshotReason = "pre-sync"
)

// SnapshotEntry is one component's captured state: runtime status plus a
// fingerprint of its declarative configuration.
type SnapshotEntry struct {
	Status      Status `json:"status"`
	Fingerprint string `json:"fingerprint"`
}

// Snapshot is an immutable point-in-time view of a map, keyed by the
// components' external identifiers since consumers are author-facing.
type Snapshot struct {
	ID         string                   `json:"id"`
	MapID      string                   `json:"mapId"`
	Reason     SnapshotReason           `json:"reason"`
	CreatedAt  time.Time                `json:"createdAt"`
	Components map[string]SnapshotEntry `json:"components"`
}

// DiffState classifies one external identifier in a definition diff.
type DiffState string

const (
	DiffAdded     DiffState = "added"
	DiffRemoved   DiffState = "removed"
	DiffModified  DiffState = "modified"
	DiffUnchanged DiffState = "unchanged"
)

// DiffEntry is the classification of a single external identifier.
type DiffEntry struct {
	ExternalID string    `json:"externalId"`
	State      DiffState `json:"state"`
}

// DiffReport is the result of diffing a snapshot against a proposed
// declarative definition, ordered by external identifier.
type DiffReport struct {
	MapID      string      `json:"mapId"`
	SnapshotID string      `json:"snapshotId"`
	Entries    []DiffEntry `json:"entries"`
}

// Counts returns the number of entries per diff state.
func (r *DiffReport) Counts() map[DiffState]int {
	counts := make(map[DiffState]int, 4)
	for _, e := range r.Entries {
		counts[e.State]++
	}
	return counts
}

// Clean reports whether the proposal matches the snapshot exactly.
func (r *DiffReport) Clean() bool {
	for _, e := range r.Entries {
		if e.State != DiffUnchanged {
			return false
		}
	}
	return true
}
