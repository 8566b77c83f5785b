// Package runtime implements the per-component state machines and the
// registry that owns them. The machine is the single source of truth for a
// component's status; everything else observes published copies.
package runtime

import (
	"time"

	"github.com/cartograph-io/cartograph/models"
)

// Config holds the runtime tuning knobs. All values are configuration with
// documented defaults rather than fixed constants.
type Config struct {
	// StalenessWindow is how long a check result stays usable. Older
	// results are treated as absent when computing status.
	StalenessWindow time.Duration

	// HistoryCap bounds the per-component transition history; the oldest
	// entry is evicted once the cap is exceeded.
	HistoryCap int

	// DefaultOverrideTTL applies when a manual override arrives without an
	// explicit TTL.
	DefaultOverrideTTL time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		StalenessWindow:    90 * time.Second,
		HistoryCap:         50,
		DefaultOverrideTTL: 15 * time.Minute,
	}
}

// Machine is the state machine of a single component. It is not safe for
// concurrent use; the registry serializes all events for a component through
// one worker.
type Machine struct {
	mapID string
	state models.ComponentRuntimeState
	cfg   Config
}

// NewMachine creates a machine in the unknown initial state.
func NewMachine(componentID, mapID string, cfg Config) *Machine {
	return &Machine{
		mapID: mapID,
		cfg:   cfg,
		state: models.ComponentRuntimeState{
			ComponentID: componentID,
			Status:      models.StatusUnknown,
			Checks:      make(map[string]models.CheckResult),
		},
	}
}

// NewMachineFromState warm-starts a machine from a persisted runtime state
// instead of beginning at unknown.
func NewMachineFromState(mapID string, state models.ComponentRuntimeState, cfg Config) *Machine {
	restored := state.Clone()
	if restored.Checks == nil {
		restored.Checks = make(map[string]models.CheckResult)
	}
	if restored.Status == "" {
		restored.Status = models.StatusUnknown
	}
	return &Machine{mapID: mapID, state: restored, cfg: cfg}
}

// State returns a copy of the current runtime state.
func (m *Machine) State() models.ComponentRuntimeState {
	return m.state.Clone()
}

// Apply feeds one event through the machine and returns the resulting state
// and whether the status changed. The machine is a total function: any event
// in any state produces a defined next state.
func (m *Machine) Apply(ev models.Event, now time.Time) (models.ComponentRuntimeState, bool) {
	forceError := false
	failReason := ""

	switch e := ev.(type) {
	case models.CheckResultEvent:
		ts := e.Timestamp
		if ts.IsZero() {
			ts = now
		}
		m.state.Checks[e.CheckName] = models.CheckResult{
			CheckName: e.CheckName,
			Severity:  e.Severity,
			Message:   e.Message,
			Timestamp: ts,
		}

	case models.CommandStartedEvent:
		m.state.Active = &models.ActiveCommand{
			CommandID:        e.CommandID,
			ActionName:       e.ActionName,
			TransitionalHint: e.TransitionalHint,
		}

	case models.CommandCompletedEvent:
		m.state.Active = nil
		if !e.Success {
			forceError = true
			failReason = e.Reason
		}

	case models.ManualOverrideEvent:
		ttl := e.TTL
		if ttl == 0 {
			ttl = m.cfg.DefaultOverrideTTL
		}
		if ttl < 0 {
			m.state.Override = nil
		} else {
			m.state.Override = &models.Override{
				Status:    e.Status,
				ExpiresAt: now.Add(ttl),
			}
		}

	case models.AgentStaleEvent:
		// Evict stale entries so the published view does not keep dead
		// results around.
		for name, r := range m.state.Checks {
			if r.Stale(now, m.cfg.StalenessWindow) {
				delete(m.state.Checks, name)
			}
		}
	}

	if m.state.Override.Expired(now) {
		m.state.Override = nil
	}

	next, message := m.compute(forceError, failReason, now)

	changed := next != m.state.Status
	if changed {
		m.state.History = append(m.state.History, models.Transition{
			From:      m.state.Status,
			To:        next,
			Cause:     ev.Cause(),
			Timestamp: now,
		})
		if limit := m.cfg.HistoryCap; limit > 0 && len(m.state.History) > limit {
			m.state.History = m.state.History[len(m.state.History)-limit:]
		}
	}

	m.state.Status = next
	m.state.Message = message
	m.state.UpdatedAt = now

	return m.state.Clone(), changed
}

// compute resolves the next status: an active command's transitional hint
// first (an override masks check-derived status, never an in-flight
// command), then the manual override, then a forced failure, then the worst
// severity across non-stale check results.
func (m *Machine) compute(forceError bool, failReason string, now time.Time) (models.Status, string) {
	if a := m.state.Active; a != nil && a.TransitionalHint != "" {
		return a.TransitionalHint, a.ActionName + " in progress"
	}
	if o := m.state.Override; o != nil {
		return o.Status, "manual override"
	}
	if forceError {
		return models.StatusError, failReason
	}

	worst, ok := models.WorstSeverity(m.state.Checks, now, m.cfg.StalenessWindow)
	if !ok {
		return models.StatusUnknown, ""
	}
	return worst.Status(), m.worstMessage(worst, now)
}

// worstMessage surfaces the message of a check at the worst severity, if any.
func (m *Machine) worstMessage(worst models.Severity, now time.Time) string {
	for _, r := range m.state.Checks {
		if r.Stale(now, m.cfg.StalenessWindow) {
			continue
		}
		if r.Severity == worst && r.Message != "" {
			return r.Message
		}
	}
	return ""
}
