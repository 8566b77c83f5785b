package orchestration

import (
	"context"
	"errors"
	"sync"

	"github.com/cartograph-io/cartograph/models"
)

// AgentTransport delivers command dispatches and cancellations to agents.
// A transport error at dispatch time fails the invoke call synchronously;
// cancellation delivery is best-effort.
type AgentTransport interface {
	SendCommand(ctx context.Context, agent *models.Agent, cmd *models.Command) error
	CancelCommand(ctx context.Context, agent *models.Agent, commandID string) error
}

// DispatchKind distinguishes the messages a polling agent picks up.
type DispatchKind string

const (
	DispatchInvoke DispatchKind = "invoke"
	DispatchCancel DispatchKind = "cancel"
)

// Dispatch is one message queued for an agent.
type Dispatch struct {
	Kind      DispatchKind    `json:"kind"`
	CommandID string          `json:"commandId"`
	Command   *models.Command `json:"command,omitempty"`
}

// PollTransport queues dispatches per agent for pickup over the inbound API,
// the same pull model the agents use for reporting. Queues are bounded; a
// full queue fails the send so the invoke call can fail synchronously
// instead of silently piling up work for a dead agent.
type PollTransport struct {
	mu       sync.Mutex
	queues   map[string][]Dispatch
	capacity int
}

// ErrAgentQueueFull is returned when an agent's dispatch queue is at
// capacity.
var ErrAgentQueueFull = errors.New("agent dispatch queue full")

// NewPollTransport creates a transport with the given per-agent queue
// capacity.
func NewPollTransport(capacity int) *PollTransport {
	if capacity <= 0 {
		capacity = 128
	}
	return &PollTransport{
		queues:   make(map[string][]Dispatch),
		capacity: capacity,
	}
}

// SendCommand queues a command for the agent.
func (t *PollTransport) SendCommand(_ context.Context, agent *models.Agent, cmd *models.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queues[agent.ID]) >= t.capacity {
		return ErrAgentQueueFull
	}
	t.queues[agent.ID] = append(t.queues[agent.ID], Dispatch{
		Kind:      DispatchInvoke,
		CommandID: cmd.ID,
		Command:   cmd.Clone(),
	})
	return nil
}

// CancelCommand queues a cancellation notice for the agent.
func (t *PollTransport) CancelCommand(_ context.Context, agent *models.Agent, commandID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queues[agent.ID]) >= t.capacity {
		return ErrAgentQueueFull
	}
	t.queues[agent.ID] = append(t.queues[agent.ID], Dispatch{
		Kind:      DispatchCancel,
		CommandID: commandID,
	})
	return nil
}

// Drain returns and clears everything queued for the agent.
func (t *PollTransport) Drain(agentID string) []Dispatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	queued := t.queues[agentID]
	delete(t.queues, agentID)
	return queued
}
