package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/models"
)

func testConfig() Config {
	return Config{
		StalenessWindow:    90 * time.Second,
		HistoryCap:         5,
		DefaultOverrideTTL: 15 * time.Minute,
	}
}

func TestMachineInitialState(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	state := m.State()

	assert.Equal(t, "c1", state.ComponentID)
	assert.Equal(t, models.StatusUnknown, state.Status)
	assert.Empty(t, state.History)
}

func TestMachineWorstSeverityWins(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	state, changed := m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityOK}, now)
	require.True(t, changed)
	assert.Equal(t, models.StatusOK, state.Status)

	state, changed = m.Apply(models.CheckResultEvent{CheckName: "disk", Severity: models.SeverityWarning}, now)
	require.True(t, changed)
	assert.Equal(t, models.StatusWarning, state.Status)

	state, changed = m.Apply(models.CheckResultEvent{CheckName: "tcp", Severity: models.SeverityError, Message: "connection refused"}, now)
	require.True(t, changed)
	assert.Equal(t, models.StatusError, state.Status)
	assert.Equal(t, "connection refused", state.Message)

	// Recovery of the worst check drops status back to the next-worst.
	state, changed = m.Apply(models.CheckResultEvent{CheckName: "tcp", Severity: models.SeverityOK}, now)
	require.True(t, changed)
	assert.Equal(t, models.StatusWarning, state.Status)
}

func TestMachineStaleResultsTreatedAsAbsent(t *testing.T) {
	cfg := testConfig()
	m := NewMachine("c1", "map1", cfg)
	now := time.Now()

	state, _ := m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityError, Timestamp: now}, now)
	assert.Equal(t, models.StatusError, state.Status)

	// Past the staleness window the result no longer counts; with no usable
	// results left the component reads unknown, never a stale last-known-good.
	later := now.Add(cfg.StalenessWindow + time.Second)
	state, changed := m.Apply(models.AgentStaleEvent{}, later)
	assert.True(t, changed)
	assert.Equal(t, models.StatusUnknown, state.Status)
	assert.Empty(t, state.Checks)
}

func TestMachineTransitionalHintMasksChecks(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	state, _ := m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityWarning}, now)
	require.Equal(t, models.StatusWarning, state.Status)

	state, changed := m.Apply(models.CommandStartedEvent{
		CommandID:        "cmd:1",
		ActionName:       "restart",
		TransitionalHint: models.StatusStarting,
	}, now)
	require.True(t, changed)
	assert.Equal(t, models.StatusStarting, state.Status)

	// A check arriving mid-command does not break out of the transitional
	// status, but its result is still recorded.
	state, changed = m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityError}, now)
	assert.False(t, changed)
	assert.Equal(t, models.StatusStarting, state.Status)
	assert.Equal(t, models.SeverityError, state.Checks["http"].Severity)
}

func TestMachineCommandSuccessFallsBackToChecks(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityWarning}, now)
	m.Apply(models.CommandStartedEvent{CommandID: "cmd:1", ActionName: "restart", TransitionalHint: models.StatusStarting}, now)

	state, changed := m.Apply(models.CommandCompletedEvent{CommandID: "cmd:1", Success: true}, now)
	require.True(t, changed)
	assert.Nil(t, state.Active)
	assert.Equal(t, models.StatusWarning, state.Status)

	state, _ = m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityOK}, now)
	assert.Equal(t, models.StatusOK, state.Status)
}

func TestMachineCommandFailureForcesError(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	// All checks healthy: a failed command still drives status to error.
	m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityOK}, now)

	state, changed := m.Apply(models.CommandCompletedEvent{CommandID: "cmd:1", Success: false, Reason: "exit code 1"}, now)
	require.True(t, changed)
	assert.Equal(t, models.StatusError, state.Status)
	assert.Equal(t, "exit code 1", state.Message)
	assert.Nil(t, state.Active)
}

func TestMachineOverrideMasksChecksUntilTTL(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityError}, now)

	state, _ := m.Apply(models.ManualOverrideEvent{Status: models.StatusOK, TTL: time.Minute}, now)
	assert.Equal(t, models.StatusOK, state.Status)

	// Still inside the TTL: checks keep updating but the override wins.
	state, _ = m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityError}, now.Add(30*time.Second))
	assert.Equal(t, models.StatusOK, state.Status)

	// After expiry the next processed event recomputes from checks as if no
	// override existed.
	state, _ = m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityError}, now.Add(2*time.Minute))
	assert.Equal(t, models.StatusError, state.Status)
	assert.Nil(t, state.Override)
}

func TestMachineOverrideNeverMasksTransitionalStatus(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	m.Apply(models.ManualOverrideEvent{Status: models.StatusOK, TTL: time.Hour}, now)
	state, _ := m.Apply(models.CommandStartedEvent{CommandID: "cmd:1", ActionName: "stop", TransitionalHint: models.StatusStopping}, now)

	// An in-flight command's transitional status beats the override.
	assert.Equal(t, models.StatusStopping, state.Status)
}

func TestMachineNegativeTTLClearsOverride(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityWarning}, now)
	m.Apply(models.ManualOverrideEvent{Status: models.StatusOK, TTL: time.Hour}, now)

	state, _ := m.Apply(models.ManualOverrideEvent{TTL: -1}, now)
	assert.Nil(t, state.Override)
	assert.Equal(t, models.StatusWarning, state.Status)
}

func TestMachineHistoryBounded(t *testing.T) {
	cfg := testConfig()
	m := NewMachine("c1", "map1", cfg)
	now := time.Now()

	severities := []models.Severity{models.SeverityOK, models.SeverityError}
	for i := 0; i < 20; i++ {
		m.Apply(models.CheckResultEvent{CheckName: "http", Severity: severities[i%2]}, now.Add(time.Duration(i)*time.Second))
	}

	state := m.State()
	assert.Len(t, state.History, cfg.HistoryCap)
	for i := 1; i < len(state.History); i++ {
		assert.False(t, state.History[i].Timestamp.Before(state.History[i-1].Timestamp),
			"history must stay ordered by time")
	}
}

func TestMachineNoTransitionNoHistoryEntry(t *testing.T) {
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityOK}, now)
	before := len(m.State().History)

	state, changed := m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityOK, Message: "200 in 12ms"}, now)
	assert.False(t, changed)
	assert.Len(t, state.History, before)
	// The latest check data is still recorded even without a transition.
	assert.Equal(t, "200 in 12ms", state.Checks["http"].Message)
}

func TestMachineScenarioRestartFlow(t *testing.T) {
	// spec scenario: warning check, then a restart with a starting hint,
	// then success plus a healthy check brings the component back to ok.
	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()

	state, _ := m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityWarning}, now)
	require.Equal(t, models.StatusWarning, state.Status)

	state, _ = m.Apply(models.CommandStartedEvent{CommandID: "cmd:restart", ActionName: "restart", TransitionalHint: models.StatusStarting}, now)
	require.Equal(t, models.StatusStarting, state.Status)

	state, _ = m.Apply(models.CommandCompletedEvent{CommandID: "cmd:restart", Success: true}, now)
	require.Equal(t, models.StatusWarning, state.Status)

	state, _ = m.Apply(models.CheckResultEvent{CheckName: "http", Severity: models.SeverityOK}, now)
	assert.Equal(t, models.StatusOK, state.Status)
}

func TestMachineWarmStart(t *testing.T) {
	persisted := models.ComponentRuntimeState{
		ComponentID: "c1",
		Status:      models.StatusWarning,
		Checks: map[string]models.CheckResult{
			"http": {CheckName: "http", Severity: models.SeverityWarning, Timestamp: time.Now()},
		},
	}

	m := NewMachineFromState("map1", persisted, testConfig())
	state := m.State()
	assert.Equal(t, models.StatusWarning, state.Status)

	// The restored state is a copy, not a shared reference.
	persisted.Checks["http"] = models.CheckResult{CheckName: "http", Severity: models.SeverityError}
	assert.Equal(t, models.SeverityWarning, m.State().Checks["http"].Severity)
}

func TestMachineTotalOverAllEvents(t *testing.T) {
	// Any event in any state yields a defined status; the machine never
	// rejects input.
	events := []models.Event{
		models.CheckResultEvent{CheckName: "x", Severity: models.SeverityError},
		models.CommandStartedEvent{CommandID: "c", ActionName: "stop", TransitionalHint: models.StatusStopping},
		models.CommandCompletedEvent{CommandID: "c", Success: false, Reason: "boom"},
		models.ManualOverrideEvent{Status: models.StatusOK, TTL: time.Second},
		models.AgentStaleEvent{},
	}

	valid := map[models.Status]bool{
		models.StatusUnknown: true, models.StatusStarting: true, models.StatusStopping: true,
		models.StatusOK: true, models.StatusWarning: true, models.StatusError: true,
	}

	m := NewMachine("c1", "map1", testConfig())
	now := time.Now()
	for round := 0; round < 3; round++ {
		for i, ev := range events {
			state, _ := m.Apply(ev, now.Add(time.Duration(round*len(events)+i)*time.Second))
			assert.True(t, valid[state.Status], "event %T produced status %q", ev, state.Status)
		}
	}
}
