package models

import "time"

// Agent is an external process that executes health checks and actions on
// behalf of components and reports results back. The control plane never
// executes checks itself.
type Agent struct {
	ID         string            `json:"id" validate:"required"`
	Name       string            `json:"name,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	LastSeenAt time.Time         `json:"lastSeenAt"`
}

// Matches reports whether the agent satisfies a label selector: every
// selector label must be present with an equal value.
func (a *Agent) Matches(labels map[string]string) bool {
	for k, v := range labels {
		if a.Labels[k] != v {
			return false
		}
	}
	return true
}
