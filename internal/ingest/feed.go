// Package ingest is the funnel for reports arriving from remote agents. It
// deduplicates per-agent sequence numbers and routes check results into the
// runtime registry and acknowledgements into the orchestrator.
package ingest

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cartograph-io/cartograph/models"
)

// ErrDuplicateReport is returned for reports whose sequence number is at or
// below the agent's high-water mark. Duplicates are expected under agent
// retries and are safe to drop.
var ErrDuplicateReport = errors.New("duplicate report")

// StateSink applies an event to a component's state machine.
type StateSink interface {
	Dispatch(componentID string, event models.Event) (models.ComponentRuntimeState, error)
}

// AckSink resolves a command acknowledgement.
type AckSink interface {
	HandleAck(report models.AckReport) error
}

// AgentPresence records agent liveness on every accepted report.
type AgentPresence interface {
	Heartbeat(agentID string) bool
}

// Feed routes inbound agent reports. Each agent numbers its reports with a
// monotonically increasing sequence; the feed tracks the high-water mark per
// agent and drops anything at or below it, so redelivered reports never
// re-enter a state machine. A sequence of zero opts out of deduplication.
type Feed struct {
	states   StateSink
	acks     AckSink
	presence AgentPresence

	mu       sync.Mutex
	seqs     map[string]uint64
	lastSeen map[string]time.Time // componentID -> last accepted check report
}

// NewFeed creates a report feed. The presence tracker may be nil.
func NewFeed(states StateSink, acks AckSink, presence AgentPresence) *Feed {
	return &Feed{
		states:   states,
		acks:     acks,
		presence: presence,
		seqs:     make(map[string]uint64),
		lastSeen: make(map[string]time.Time),
	}
}

// HandleCheckReport applies a health-check report to the component's state
// machine and returns the resulting state.
func (f *Feed) HandleCheckReport(report models.CheckReport) (models.ComponentRuntimeState, error) {
	if err := f.accept(report.AgentID, report.Sequence); err != nil {
		return models.ComponentRuntimeState{}, err
	}

	ts := report.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	f.mu.Lock()
	f.lastSeen[report.ComponentID] = ts
	f.mu.Unlock()

	return f.states.Dispatch(report.ComponentID, models.CheckResultEvent{
		CheckName: report.CheckName,
		Severity:  report.Severity,
		Message:   report.Message,
		Timestamp: ts,
	})
}

// HandleAckReport forwards a command acknowledgement to the orchestrator.
func (f *Feed) HandleAckReport(report models.AckReport) error {
	if err := f.accept(report.AgentID, report.Sequence); err != nil {
		return err
	}
	return f.acks.HandleAck(report)
}

// Track seeds the staleness clock for a newly registered component. Without
// it a component whose agent never reports would escape the sweep entirely;
// with it the silence ages out like any other gap. An existing entry is left
// untouched.
func (f *Feed) Track(componentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lastSeen[componentID]; !ok {
		f.lastSeen[componentID] = time.Now()
	}
}

// LastReport returns when the component last had a check report accepted.
func (f *Feed) LastReport(componentID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.lastSeen[componentID]
	return ts, ok
}

// Quiet returns the components whose last accepted report is older than the
// window, for the staleness sweep.
func (f *Feed) Quiet(now time.Time, window time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var quiet []string
	for componentID, ts := range f.lastSeen {
		if now.Sub(ts) > window {
			quiet = append(quiet, componentID)
		}
	}
	return quiet
}

// Forget drops the tracking entries for an unregistered component.
func (f *Feed) Forget(componentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lastSeen, componentID)
}

// accept advances the agent's sequence high-water mark, rejecting replays.
func (f *Feed) accept(agentID string, seq uint64) error {
	f.mu.Lock()
	if seq > 0 {
		if seq <= f.seqs[agentID] {
			f.mu.Unlock()
			log.Printf("ingest: dropping replayed report from %s (seq %d)", agentID, seq)
			return ErrDuplicateReport
		}
		f.seqs[agentID] = seq
	}
	f.mu.Unlock()

	if f.presence != nil && agentID != "" {
		f.presence.Heartbeat(agentID)
	}
	return nil
}
