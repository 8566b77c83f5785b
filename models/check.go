package models

import "time"

// Severity is the outcome of a single health check: ok < warning < error.
type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var severityRank = map[Severity]int{
	SeverityOK:      0,
	SeverityWarning: 1,
	SeverityError:   2,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// WorseThan reports whether s is more severe than other.
func (s Severity) WorseThan(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// Status maps a check severity to the component status it implies.
func (s Severity) Status() Status {
	switch s {
	case SeverityWarning:
		return StatusWarning
	case SeverityError:
		return StatusError
	default:
		return StatusOK
	}
}

// CheckResult is the latest reported outcome of one named health check.
// A component's runtime context keeps at most one result per check name;
// results older than the staleness window are treated as absent.
type CheckResult struct {
	CheckName string    `json:"checkName"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stale reports whether the result is older than the given window at now.
func (r CheckResult) Stale(now time.Time, window time.Duration) bool {
	return window > 0 && now.Sub(r.Timestamp) > window
}

// WorstSeverity folds a set of check results into the highest severity among
// the non-stale ones. The second return value is false when no usable result
// exists, in which case the component status is unknown.
func WorstSeverity(results map[string]CheckResult, now time.Time, window time.Duration) (Severity, bool) {
	worst := SeverityOK
	found := false
	for _, r := range results {
		if r.Stale(now, window) {
			continue
		}
		if !found || r.Severity.WorseThan(worst) {
			worst = r.Severity
		}
		found = true
	}
	return worst, found
}
