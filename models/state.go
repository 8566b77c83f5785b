package models

import "time"

// ActiveCommand is the reference a state machine keeps to the one in-flight
// command of its component.
type ActiveCommand struct {
	CommandID        string `json:"commandId"`
	ActionName       string `json:"actionName"`
	TransitionalHint Status `json:"transitionalHint,omitempty"`
}

// Override is an unexpired manual status override. While set it takes
// precedence over check-derived status but never over an in-flight command's
// transitional status.
type Override struct {
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the override has lapsed at now.
func (o *Override) Expired(now time.Time) bool {
	return o == nil || !now.Before(o.ExpiresAt)
}

// Transition is one entry of a component's bounded transition history.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Cause     string    `json:"cause"`
	Timestamp time.Time `json:"timestamp"`
}

// ComponentRuntimeState is the authoritative runtime view of a component,
// owned exclusively by its state machine. Read access goes through published
// copies, never a shared mutable reference.
type ComponentRuntimeState struct {
	ComponentID string                 `json:"componentId"`
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	Checks      map[string]CheckResult `json:"checks,omitempty"`
	Active      *ActiveCommand         `json:"activeCommand,omitempty"`
	Override    *Override              `json:"override,omitempty"`
	History     []Transition           `json:"history,omitempty"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// Clone returns a deep copy safe for publication.
func (s *ComponentRuntimeState) Clone() ComponentRuntimeState {
	cp := *s
	if s.Checks != nil {
		cp.Checks = make(map[string]CheckResult, len(s.Checks))
		for k, v := range s.Checks {
			cp.Checks[k] = v
		}
	}
	if s.Active != nil {
		a := *s.Active
		cp.Active = &a
	}
	if s.Override != nil {
		o := *s.Override
		cp.Override = &o
	}
	cp.History = append([]Transition(nil), s.History...)
	return cp
}
