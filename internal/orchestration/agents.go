// Package orchestration validates and dispatches remote action invocations,
// tracks the in-flight command lifecycle, and feeds lifecycle outcomes back
// into the runtime registry as events.
package orchestration

import (
	"errors"
	"sync"
	"time"

	"github.com/cartograph-io/cartograph/models"
)

// ErrNoAgentAvailable is returned when a component's agent selector matches
// no known agent.
var ErrNoAgentAvailable = errors.New("no agent available")

// AgentRegistry tracks the agents currently known to the control plane.
// Agents announce themselves and heartbeat through the inbound API.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
	now    func() time.Time
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]*models.Agent),
		now:    time.Now,
	}
}

// Register adds or refreshes an agent.
func (r *AgentRegistry) Register(agent *models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *agent
	if cp.Labels != nil {
		cp.Labels = make(map[string]string, len(agent.Labels))
		for k, v := range agent.Labels {
			cp.Labels[k] = v
		}
	}
	cp.LastSeenAt = r.now()
	r.agents[cp.ID] = &cp
}

// Heartbeat refreshes an agent's last-seen time.
func (r *AgentRegistry) Heartbeat(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if ok {
		agent.LastSeenAt = r.now()
	}
	return ok
}

// Remove forgets an agent.
func (r *AgentRegistry) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Get returns a copy of the agent, or nil.
func (r *AgentRegistry) Get(agentID string) *models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	cp := *agent
	return &cp
}

// List returns copies of all known agents.
func (r *AgentRegistry) List() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		cp := *agent
		out = append(out, &cp)
	}
	return out
}

// Resolve picks the agent for a component: an explicit agent id wins, else
// the most recently seen agent whose labels match the selector. Returns
// ErrNoAgentAvailable when nothing matches.
func (r *AgentRegistry) Resolve(selector models.AgentSelector) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if selector.AgentID != "" {
		agent, ok := r.agents[selector.AgentID]
		if !ok {
			return nil, ErrNoAgentAvailable
		}
		cp := *agent
		return &cp, nil
	}

	var best *models.Agent
	for _, agent := range r.agents {
		if !agent.Matches(selector.Labels) {
			continue
		}
		if best == nil || agent.LastSeenAt.After(best.LastSeenAt) {
			best = agent
		}
	}
	if best == nil {
		return nil, ErrNoAgentAvailable
	}
	cp := *best
	return &cp, nil
}
