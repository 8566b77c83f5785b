package snapshot

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/models"
)

// memoryStore is a durable-store stand-in for exercising persistence
// fallbacks and pruning.
type memoryStore struct {
	byID  map[string]*models.Snapshot
	byMap map[string][]*models.Snapshot // newest first
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		byID:  make(map[string]*models.Snapshot),
		byMap: make(map[string][]*models.Snapshot),
	}
}

func (m *memoryStore) SaveSnapshot(_ context.Context, snap *models.Snapshot) error {
	m.byID[snap.ID] = snap
	m.byMap[snap.MapID] = append([]*models.Snapshot{snap}, m.byMap[snap.MapID]...)
	return nil
}

func (m *memoryStore) GetSnapshot(_ context.Context, id string) (*models.Snapshot, error) {
	snap, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return snap, nil
}

func (m *memoryStore) ListSnapshots(_ context.Context, mapID string, limit int) ([]*models.Snapshot, error) {
	snaps := m.byMap[mapID]
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (m *memoryStore) PruneSnapshots(_ context.Context, mapID string, keep int) error {
	snaps := m.byMap[mapID]
	if keep <= 0 || len(snaps) <= keep {
		return nil
	}
	for _, old := range snaps[keep:] {
		delete(m.byID, old.ID)
	}
	m.byMap[mapID] = snaps[:keep]
	return nil
}

type fixture struct {
	components map[string][]*models.Component
	states     map[string]map[string]models.ComponentRuntimeState
}

func (f *fixture) ListComponents(mapID string) ([]*models.Component, error) {
	return f.components[mapID], nil
}

func (f *fixture) SnapshotStates(mapID string) map[string]models.ComponentRuntimeState {
	return f.states[mapID]
}

func component(id, externalID, name string) *models.Component {
	return &models.Component{
		ID:         id,
		MapID:      "map1",
		ExternalID: externalID,
		Name:       name,
		Type:       "service",
	}
}

func newFixture() *fixture {
	return &fixture{
		components: map[string][]*models.Component{
			"map1": {
				component("c1", "api", "API"),
				component("c2", "db", "Database"),
			},
		},
		states: map[string]map[string]models.ComponentRuntimeState{
			"map1": {
				"c1": {ComponentID: "c1", Status: models.StatusOK},
			},
		},
	}
}

func TestCaptureRecordsStatusAndFingerprint(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, DefaultConfig())

	snap, err := svc.Capture("map1", models.SnapshotManual)
	require.NoError(t, err)
	assert.Equal(t, "map1", snap.MapID)
	assert.Equal(t, models.SnapshotManual, snap.Reason)
	require.Len(t, snap.Components, 2)

	api := snap.Components["api"]
	assert.Equal(t, models.StatusOK, api.Status)
	assert.Equal(t, f.components["map1"][0].ConfigFingerprint(), api.Fingerprint)

	// No runtime state yet reads as unknown.
	assert.Equal(t, models.StatusUnknown, snap.Components["db"].Status)

	latest, err := svc.Latest("map1")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, latest.ID)
}

func TestLatestWithoutCapture(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, DefaultConfig())

	_, err := svc.Latest("map1")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = svc.Get("snap:missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRetentionEvictsOldestFirst(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, Config{Retention: 3})

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		snap, err := svc.Capture("map1", models.SnapshotScheduled)
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	listed := svc.List("map1")
	require.Len(t, listed, 3)
	assert.Equal(t, ids[4], listed[0].ID, "newest first")
	assert.Equal(t, ids[2], listed[2].ID)

	_, err := svc.Get(ids[0])
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	_, err = svc.Get(ids[4])
	assert.NoError(t, err)
}

func TestDiffAgainstSnapshot(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, DefaultConfig())

	snap, err := svc.Capture("map1", models.SnapshotManual)
	require.NoError(t, err)

	// The proposal renames the API, drops the database and adds a cache.
	def := &models.MapDefinition{
		MapID: "map1",
		Components: []models.ComponentDefinition{
			{ExternalID: "api", Name: "API v2", Type: "service"},
			{ExternalID: "cache", Name: "Cache", Type: "service"},
		},
	}

	report, err := svc.Diff(def, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, report.SnapshotID)
	require.Len(t, report.Entries, 3)

	// Ordered by external identifier.
	assert.Equal(t, []models.DiffEntry{
		{ExternalID: "api", State: models.DiffModified},
		{ExternalID: "cache", State: models.DiffAdded},
		{ExternalID: "db", State: models.DiffRemoved},
	}, report.Entries)

	counts := report.Counts()
	assert.Equal(t, 1, counts[models.DiffModified])
	assert.Equal(t, 1, counts[models.DiffAdded])
	assert.Equal(t, 1, counts[models.DiffRemoved])
	assert.False(t, report.Clean())
}

func TestDiffIdenticalDefinitionIsClean(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, DefaultConfig())

	def := &models.MapDefinition{MapID: "map1"}
	for _, c := range f.components["map1"] {
		def.Components = append(def.Components, c.Definition())
	}

	// No snapshot given: a fresh pre-sync capture is taken.
	report, err := svc.Diff(def, "")
	require.NoError(t, err)
	assert.True(t, report.Clean())

	captured, err := svc.Get(report.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotPreSync, captured.Reason)
}

func TestDiffDefaultUsesLatestSnapshot(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, DefaultConfig())

	snap, err := svc.Capture("map1", models.SnapshotManual)
	require.NoError(t, err)

	// The stored API component changes after the capture.
	f.components["map1"][0].Name = "API v2"

	def := &models.MapDefinition{MapID: "map1"}
	for _, c := range f.components["map1"] {
		def.Components = append(def.Components, c.Definition())
	}

	report, err := svc.Diff(def, "")
	require.NoError(t, err)

	// Diffed against the existing capture, not a fresh one.
	assert.Equal(t, snap.ID, report.SnapshotID)
	assert.Equal(t, 1, report.Counts()[models.DiffModified])
	assert.Len(t, svc.List("map1"), 1)
}

func TestCapturePrunesDurableCopies(t *testing.T) {
	f := newFixture()
	store := newMemoryStore()
	svc := New(f, f, store, Config{Retention: 2})

	for i := 0; i < 4; i++ {
		_, err := svc.Capture("map1", models.SnapshotScheduled)
		require.NoError(t, err)
	}
	assert.Len(t, store.byMap["map1"], 2)
}

func TestStoredSnapshotsServeAfterRestart(t *testing.T) {
	f := newFixture()
	store := newMemoryStore()

	first := New(f, f, store, DefaultConfig())
	snap, err := first.Capture("map1", models.SnapshotManual)
	require.NoError(t, err)

	// A fresh service with an empty in-memory set reads the durable copies.
	second := New(f, f, store, DefaultConfig())

	got, err := second.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)

	latest, err := second.Latest("map1")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, latest.ID)

	require.Len(t, second.List("map1"), 1)
}

func TestDiffUnknownSnapshot(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, DefaultConfig())

	_, err := svc.Diff(&models.MapDefinition{MapID: "map1"}, "snap:missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRetentionIsPerMap(t *testing.T) {
	f := newFixture()
	f.components["map2"] = []*models.Component{component("x1", "worker", "Worker")}
	svc := New(f, f, nil, Config{Retention: 2})

	for i := 0; i < 3; i++ {
		_, err := svc.Capture("map1", models.SnapshotScheduled)
		require.NoError(t, err)
	}
	snap2, err := svc.Capture("map2", models.SnapshotManual)
	require.NoError(t, err)

	assert.Len(t, svc.List("map1"), 2)
	require.Len(t, svc.List("map2"), 1)
	assert.Equal(t, snap2.ID, svc.List("map2")[0].ID)
}

func TestCaptureDistinctIDs(t *testing.T) {
	f := newFixture()
	svc := New(f, f, nil, DefaultConfig())

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		snap, err := svc.Capture("map1", models.SnapshotManual)
		require.NoError(t, err, fmt.Sprintf("capture %d", i))
		assert.False(t, seen[snap.ID])
		seen[snap.ID] = true
	}
}
