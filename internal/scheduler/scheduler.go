// Package scheduler runs the periodic background work of the control plane:
// staleness sweeps over quiet components and scheduled snapshot captures.
package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/cartograph-io/cartograph/models"
)

// QuietSource reports the components whose last check report is older than
// the staleness window.
type QuietSource interface {
	Quiet(now time.Time, window time.Duration) []string
}

// StateSink applies an event to a component's state machine.
type StateSink interface {
	Dispatch(componentID string, event models.Event) (models.ComponentRuntimeState, error)
}

// Capturer takes a snapshot of a map.
type Capturer interface {
	Capture(mapID string, reason models.SnapshotReason) (*models.Snapshot, error)
}

// MapSource enumerates the maps to snapshot on schedule.
type MapSource interface {
	ListMapIDs() ([]string, error)
}

// Config holds the scheduler intervals.
type Config struct {
	// SweepInterval is how often quiet components are swept.
	SweepInterval time.Duration

	// StalenessWindow is how long a component may go without an accepted
	// check report before it is marked stale.
	StalenessWindow time.Duration

	// SnapshotInterval is how often every map gets a scheduled snapshot.
	// Zero disables scheduled captures.
	SnapshotInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:    30 * time.Second,
		StalenessWindow:  90 * time.Second,
		SnapshotInterval: 5 * time.Minute,
	}
}

// Scheduler drives the staleness sweep and scheduled snapshots on a ticker.
type Scheduler struct {
	quiet     QuietSource
	states    StateSink
	snapshots Capturer
	maps      MapSource
	cfg       Config

	ticker       *time.Ticker
	stop         chan bool
	lastSnapshot time.Time

	mu      sync.Mutex
	running bool
}

// New creates a scheduler. The snapshot pair (snapshots, maps) may be nil to
// run sweeps only.
func New(quiet QuietSource, states StateSink, snapshots Capturer, maps MapSource, cfg Config) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultConfig().StalenessWindow
	}
	return &Scheduler{
		quiet:     quiet,
		states:    states,
		snapshots: snapshots,
		maps:      maps,
		cfg:       cfg,
		stop:      make(chan bool),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Println("Scheduler already running")
		return
	}
	s.running = true
	s.ticker = time.NewTicker(s.cfg.SweepInterval)
	s.mu.Unlock()

	log.Printf("Scheduler started - sweeping every %s (staleness window %s)", s.cfg.SweepInterval, s.cfg.StalenessWindow)

	go func() {
		// Sweep immediately on start so a restart does not wait a full
		// interval to notice silent agents.
		s.tick()

		for {
			select {
			case <-s.ticker.C:
				s.tick()
			case <-s.stop:
				s.ticker.Stop()
				log.Println("Scheduler stopped")
				return
			}
		}
	}()
}

// Stop halts the scheduler. Stopping an already-stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.stop <- true
}

func (s *Scheduler) tick() {
	s.sweep()
	s.captureDue()
}

// sweep injects a stale event into every component that has gone quiet. The
// machine recomputes status with stale results filtered out, so a component
// that keeps reporting is untouched and a silent one drops to unknown.
func (s *Scheduler) sweep() {
	now := time.Now()
	quiet := s.quiet.Quiet(now, s.cfg.StalenessWindow)
	if len(quiet) == 0 {
		return
	}

	log.Printf("Sweeping %d quiet component(s)", len(quiet))
	for _, componentID := range quiet {
		if _, err := s.states.Dispatch(componentID, models.AgentStaleEvent{}); err != nil {
			log.Printf("Error sweeping component %s: %v", componentID, err)
		}
	}
}

// captureDue takes a scheduled snapshot of every map once per interval.
func (s *Scheduler) captureDue() {
	if s.snapshots == nil || s.maps == nil || s.cfg.SnapshotInterval <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(s.lastSnapshot) < s.cfg.SnapshotInterval {
		return
	}
	s.lastSnapshot = now

	mapIDs, err := s.maps.ListMapIDs()
	if err != nil {
		log.Printf("Error listing maps for scheduled snapshots: %v", err)
		return
	}
	for _, mapID := range mapIDs {
		if _, err := s.snapshots.Capture(mapID, models.SnapshotScheduled); err != nil {
			log.Printf("Error capturing scheduled snapshot of map %s: %v", mapID, err)
		}
	}
}
