// Package snapshot captures point-in-time views of a map's runtime and
// declarative state, and diffs them against proposed definitions to surface
// drift before a sync is applied.
package snapshot

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cartograph-io/cartograph/models"
)

var (
	// ErrSnapshotNotFound is returned for unknown snapshot identifiers.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrNoSnapshot is returned when a map has never been captured.
	ErrNoSnapshot = errors.New("no snapshot for map")
)

// ComponentLister enumerates the registered components of a map.
type ComponentLister interface {
	ListComponents(mapID string) ([]*models.Component, error)
}

// StateSource reads the current runtime state of a map's components, keyed
// by internal component identifier.
type StateSource interface {
	SnapshotStates(mapID string) map[string]models.ComponentRuntimeState
}

// SnapshotStore persists captures durably. Writes are best-effort; a
// failure is logged, never propagated. Reads serve as the fallback for
// captures taken before the last restart.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetSnapshot(ctx context.Context, snapshotID string) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, mapID string, limit int) ([]*models.Snapshot, error)
	PruneSnapshots(ctx context.Context, mapID string, keep int) error
}

// Config holds the snapshot service tuning knobs.
type Config struct {
	// Retention is how many captures are kept in memory per map; older
	// ones are evicted oldest-first.
	Retention int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Retention: 20}
}

// Service captures and diffs map snapshots. Captures are immutable once
// taken; the service retains the most recent ones per map.
type Service struct {
	components ComponentLister
	states     StateSource
	store      SnapshotStore
	cfg        Config
	now        func() time.Time

	mu    sync.RWMutex
	byID  map[string]*models.Snapshot
	byMap map[string][]*models.Snapshot // oldest first
}

// New creates a snapshot service. The store may be nil.
func New(components ComponentLister, states StateSource, store SnapshotStore, cfg Config) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Service{
		components: components,
		states:     states,
		store:      store,
		cfg:        cfg,
		now:        time.Now,
		byID:       make(map[string]*models.Snapshot),
		byMap:      make(map[string][]*models.Snapshot),
	}
}

// Capture records the map's current state: per component the runtime status
// and the fingerprint of its declarative configuration, keyed by external
// identifier. Components with no runtime state yet are captured as unknown.
func (s *Service) Capture(mapID string, reason models.SnapshotReason) (*models.Snapshot, error) {
	components, err := s.components.ListComponents(mapID)
	if err != nil {
		return nil, err
	}
	states := s.states.SnapshotStates(mapID)

	snap := &models.Snapshot{
		ID:         models.GenerateID("snap"),
		MapID:      mapID,
		Reason:     reason,
		CreatedAt:  s.now(),
		Components: make(map[string]models.SnapshotEntry, len(components)),
	}
	for _, c := range components {
		status := models.StatusUnknown
		if state, ok := states[c.ID]; ok {
			status = state.Status
		}
		snap.Components[c.ExternalID] = models.SnapshotEntry{
			Status:      status,
			Fingerprint: c.ConfigFingerprint(),
		}
	}

	s.mu.Lock()
	s.byID[snap.ID] = snap
	s.byMap[mapID] = append(s.byMap[mapID], snap)
	if evict := len(s.byMap[mapID]) - s.cfg.Retention; evict > 0 {
		for _, old := range s.byMap[mapID][:evict] {
			delete(s.byID, old.ID)
		}
		s.byMap[mapID] = append([]*models.Snapshot(nil), s.byMap[mapID][evict:]...)
	}
	s.mu.Unlock()

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			log.Printf("snapshot: persisting %s failed: %v", snap.ID, err)
		}
		// Retention applies to the durable copies too, not just memory.
		if err := s.store.PruneSnapshots(ctx, mapID, s.cfg.Retention); err != nil {
			log.Printf("snapshot: pruning %s failed: %v", mapID, err)
		}
	}
	return snap, nil
}

// Get returns a snapshot by identifier, falling back to the durable copy
// for captures taken before the last restart.
func (s *Service) Get(snapshotID string) (*models.Snapshot, error) {
	s.mu.RLock()
	snap, ok := s.byID[snapshotID]
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stored, err := s.store.GetSnapshot(ctx, snapshotID); err == nil && stored != nil {
			return stored, nil
		}
	}
	return nil, ErrSnapshotNotFound
}

// Latest returns the most recent capture of a map, falling back to the
// durable copy for captures taken before the last restart.
func (s *Service) Latest(mapID string) (*models.Snapshot, error) {
	s.mu.RLock()
	snaps := s.byMap[mapID]
	if len(snaps) > 0 {
		snap := snaps[len(snaps)-1]
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stored, err := s.store.ListSnapshots(ctx, mapID, 1); err == nil && len(stored) > 0 {
			return stored[0], nil
		}
	}
	return nil, ErrNoSnapshot
}

// List returns a map's retained captures, newest first. An empty in-memory
// set falls back to the durable copies.
func (s *Service) List(mapID string) []*models.Snapshot {
	s.mu.RLock()
	snaps := s.byMap[mapID]
	out := make([]*models.Snapshot, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		out = append(out, snaps[i])
	}
	s.mu.RUnlock()

	if len(out) == 0 && s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stored, err := s.store.ListSnapshots(ctx, mapID, s.cfg.Retention); err == nil {
			return stored
		}
	}
	return out
}

// Diff compares a proposed declarative definition against a snapshot. An
// empty snapshotID diffs against the map's most recent capture, taking a
// pre-sync capture on demand only when the map has never been captured.
// Entries are ordered by external identifier.
func (s *Service) Diff(def *models.MapDefinition, snapshotID string) (*models.DiffReport, error) {
	var snap *models.Snapshot
	var err error
	switch {
	case snapshotID != "":
		snap, err = s.Get(snapshotID)
	default:
		snap, err = s.Latest(def.MapID)
		if errors.Is(err, ErrNoSnapshot) {
			snap, err = s.Capture(def.MapID, models.SnapshotPreSync)
		}
	}
	if err != nil {
		return nil, err
	}

	proposed := make(map[string]string, len(def.Components))
	for _, c := range def.Components {
		proposed[c.ExternalID] = c.Fingerprint()
	}

	report := &models.DiffReport{MapID: def.MapID, SnapshotID: snap.ID}
	for externalID, fp := range proposed {
		entry, exists := snap.Components[externalID]
		switch {
		case !exists:
			report.Entries = append(report.Entries, models.DiffEntry{ExternalID: externalID, State: models.DiffAdded})
		case entry.Fingerprint != fp:
			report.Entries = append(report.Entries, models.DiffEntry{ExternalID: externalID, State: models.DiffModified})
		default:
			report.Entries = append(report.Entries, models.DiffEntry{ExternalID: externalID, State: models.DiffUnchanged})
		}
	}
	for externalID := range snap.Components {
		if _, exists := proposed[externalID]; !exists {
			report.Entries = append(report.Entries, models.DiffEntry{ExternalID: externalID, State: models.DiffRemoved})
		}
	}
	sort.Slice(report.Entries, func(i, j int) bool {
		return report.Entries[i].ExternalID < report.Entries[j].ExternalID
	})
	return report, nil
}
