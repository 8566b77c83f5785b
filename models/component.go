// Package models defines the core entities of the Cartograph control plane:
// components, health-check results, commands, snapshots and the events that
// drive the per-component state machines.
package models

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// Status is the runtime status of a component. The steady states (ok,
// warning, error) are derived from health-check results; the transitional
// states (starting, stopping) are driven by in-flight commands.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusStarting Status = "starting"
	StatusStopping Status = "stopping"
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
)

// Component represents a modeled infrastructure unit on an architecture map.
// Its configuration (checks, actions, dependencies, agent selector) is owned
// by the definition layer; the control plane owns only the runtime status.
//
// Example JSON representation:
//
//	{
//	  "id": "6f1c9a2e-...",
//	  "mapId": "map-prod",
//	  "externalId": "payments-db",
//	  "name": "Payments DB",
//	  "type": "database",
//	  "config": {
//	    "checks": [{"name": "tcp", "interval": "30s"}],
//	    "actions": [{"name": "restart", "transitionalHint": "starting"}],
//	    "agentSelector": {"labels": {"zone": "eu-1"}}
//	  }
//	}
type Component struct {
	// ID is the internal, server-generated component identifier
	ID string `json:"id"`

	// MapID is the architecture map this component belongs to
	MapID string `json:"mapId"`

	// ExternalID is the author-facing identifier used by the declarative
	// definition layer. Unique per map.
	ExternalID string `json:"externalId" validate:"required"`

	// Name is the human-readable display name
	Name string `json:"name" validate:"required"`

	// Type classifies the component (service, database, queue, ...)
	Type string `json:"type" validate:"required"`

	// Config holds the declarative configuration owned by the definition layer
	Config ComponentConfig `json:"config"`

	// Position is the component's placement on the map canvas
	Position Position `json:"position"`

	// UpdatedAt is the last modification time of the definition
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ComponentConfig is the declarative part of a component: which checks the
// agents run, which actions can be invoked, declared dependencies and how to
// pick the executing agent.
type ComponentConfig struct {
	Checks        []CheckSpec   `json:"checks,omitempty" validate:"dive"`
	Actions       []ActionSpec  `json:"actions,omitempty" validate:"dive"`
	DependsOn     []string      `json:"dependsOn,omitempty"`
	AgentSelector AgentSelector `json:"agentSelector"`
}

// CheckSpec declares a health check executed by a remote agent.
type CheckSpec struct {
	Name     string        `json:"name" validate:"required"`
	Type     string        `json:"type,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	Target   string        `json:"target,omitempty"`
}

// ActionSpec declares a remote action that can be invoked on a component.
type ActionSpec struct {
	Name string `json:"name" validate:"required"`

	// TransitionalHint is the status shown while a command for this action
	// is in flight: "starting", "stopping" or empty for no hint.
	TransitionalHint Status `json:"transitionalHint,omitempty"`

	// RequireConfirmation forces callers to acknowledge the invocation
	RequireConfirmation bool `json:"requireConfirmation,omitempty"`

	// Async returns the command id immediately; synchronous actions block
	// the caller until the command is terminal.
	Async bool `json:"async,omitempty"`

	// Timeout overrides the configured default command timeout
	Timeout time.Duration `json:"timeout,omitempty"`
}

// AgentSelector picks the agent that executes checks and actions for a
// component: an explicit agent id wins, otherwise all labels must match.
type AgentSelector struct {
	AgentID string            `json:"agentId,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Position is the component's placement on the map canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Action returns the declared action with the given name, or nil.
func (c *Component) Action(name string) *ActionSpec {
	for i := range c.Config.Actions {
		if c.Config.Actions[i].Name == name {
			return &c.Config.Actions[i]
		}
	}
	return nil
}

// ConfigFingerprint returns a stable BLAKE3 hash of the component's
// declarative configuration. Components with equal fingerprints are
// considered unchanged by the definition diff.
func (c *Component) ConfigFingerprint() string {
	canonical := struct {
		ExternalID string          `json:"externalId"`
		Name       string          `json:"name"`
		Type       string          `json:"type"`
		Config     ComponentConfig `json:"config"`
	}{c.ExternalID, c.Name, c.Type, c.normalizedConfig()}

	data, err := json.Marshal(canonical)
	if err != nil {
		// Marshalling a plain struct of maps, slices and strings cannot
		// fail; keep the signature hash-only.
		return ""
	}
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// normalizedConfig returns the config with order-independent parts sorted so
// the fingerprint is stable across definition reorderings.
func (c *Component) normalizedConfig() ComponentConfig {
	cfg := ComponentConfig{
		Checks:        append([]CheckSpec(nil), c.Config.Checks...),
		Actions:       append([]ActionSpec(nil), c.Config.Actions...),
		DependsOn:     append([]string(nil), c.Config.DependsOn...),
		AgentSelector: c.Config.AgentSelector,
	}
	sort.Slice(cfg.Checks, func(i, j int) bool { return cfg.Checks[i].Name < cfg.Checks[j].Name })
	sort.Slice(cfg.Actions, func(i, j int) bool { return cfg.Actions[i].Name < cfg.Actions[j].Name })
	sort.Strings(cfg.DependsOn)
	return cfg
}
