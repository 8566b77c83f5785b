package models

import (
	"encoding/json"
	"time"
)

// CommandStatus is the lifecycle status of a remote command.
type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandRunning   CommandStatus = "running"
	CommandSucceeded CommandStatus = "succeeded"
	CommandFailed    CommandStatus = "failed"
	CommandTimedOut  CommandStatus = "timed_out"
	CommandCancelled CommandStatus = "cancelled"
)

// Terminal reports whether the status is final. A terminal command is kept
// for audit but no longer affects scheduling.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandSucceeded, CommandFailed, CommandTimedOut, CommandCancelled:
		return true
	}
	return false
}

// Command is a single invocation of a component action. It is created by the
// orchestrator, mutated only by the orchestrator, and immutable once
// terminal.
type Command struct {
	// ID is the server-generated command identifier
	ID string `json:"id"`

	// ComponentID is the internal id of the target component
	ComponentID string `json:"componentId"`

	// ActionName is the declared action being invoked
	ActionName string `json:"actionName"`

	// Args are the caller-supplied action arguments
	Args map[string]any `json:"args,omitempty"`

	// IdempotencyKey deduplicates repeated invocations within a short window
	IdempotencyKey string `json:"idempotencyKey"`

	// Requester identifies who invoked the action
	Requester string `json:"requester"`

	// AgentID is the agent the command was dispatched to
	AgentID string `json:"agentId,omitempty"`

	Status CommandStatus `json:"status"`

	// Result carries the agent-reported payload on success
	Result json.RawMessage `json:"result,omitempty"`

	// FailureReason explains failed, timed_out and cancelled commands
	FailureReason string `json:"failureReason,omitempty"`

	RequestedAt time.Time  `json:"requestedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the command has reached a final status.
func (c *Command) Terminal() bool {
	return c.Status.Terminal()
}

// Clone returns a copy safe to hand to callers while the orchestrator keeps
// mutating the original.
func (c *Command) Clone() *Command {
	cp := *c
	if c.Args != nil {
		cp.Args = make(map[string]any, len(c.Args))
		for k, v := range c.Args {
			cp.Args[k] = v
		}
	}
	if c.Result != nil {
		cp.Result = append(json.RawMessage(nil), c.Result...)
	}
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
