package models

import (
	"encoding/json"
	"time"
)

// Event is an input to a component's state machine. Events are routed by the
// registry and applied strictly in order per component; the machine is a
// total function over (state, event) and never rejects one.
type Event interface {
	// Cause is the short label recorded in the transition history
	Cause() string
}

// CheckResultEvent carries a health-check outcome reported by an agent.
type CheckResultEvent struct {
	CheckName string
	Severity  Severity
	Message   string
	Timestamp time.Time
}

func (e CheckResultEvent) Cause() string { return "check:" + e.CheckName }

// CommandStartedEvent is emitted by the orchestrator when a command has been
// dispatched to an agent. TransitionalHint, when set, becomes the component
// status while the command is in flight.
type CommandStartedEvent struct {
	CommandID        string
	ActionName       string
	TransitionalHint Status
}

func (e CommandStartedEvent) Cause() string { return "command_started:" + e.ActionName }

// CommandCompletedEvent is emitted when a command reaches a terminal status.
// A failed command forces the component into error with the given reason; a
// successful one clears the active command and yields back to check-derived
// status.
type CommandCompletedEvent struct {
	CommandID string
	Success   bool
	Reason    string
}

func (e CommandCompletedEvent) Cause() string {
	if e.Success {
		return "command_succeeded"
	}
	return "command_failed:" + e.Reason
}

// ManualOverrideEvent pins the component status to a fixed value until the
// TTL elapses. A zero TTL applies the configured default; a negative TTL
// clears any existing override.
type ManualOverrideEvent struct {
	Status Status
	TTL    time.Duration
}

func (e ManualOverrideEvent) Cause() string { return "override:" + string(e.Status) }

// AgentStaleEvent is injected by the staleness sweep when no check result
// has arrived for a component within the configured window. It carries no
// data; applying it recomputes status with stale results filtered out.
type AgentStaleEvent struct{}

func (AgentStaleEvent) Cause() string { return "agent_stale" }

// CheckReport is an inbound health-check report from a remote agent.
// Sequence is a monotonically increasing per-agent number used to discard
// stale and duplicate deliveries.
type CheckReport struct {
	AgentID     string    `json:"agentId" validate:"required"`
	Sequence    uint64    `json:"sequence"`
	ComponentID string    `json:"componentId" validate:"required"`
	CheckName   string    `json:"checkName" validate:"required"`
	Severity    Severity  `json:"severity" validate:"required"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AckReport is an inbound command acknowledgement from a remote agent.
type AckReport struct {
	AgentID   string          `json:"agentId" validate:"required"`
	Sequence  uint64          `json:"sequence"`
	CommandID string          `json:"commandId" validate:"required"`
	Success   bool            `json:"success"`
	Reason    string          `json:"reason,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// StatusChange is the notification published to map subscribers after a
// state machine transition.
type StatusChange struct {
	MapID       string    `json:"mapId"`
	ComponentID string    `json:"componentId"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
