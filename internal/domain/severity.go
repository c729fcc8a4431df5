package domain

import (
	"fmt"
	"time"
)

// Severity is ordered: minor < medium < critical.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMedium   Severity = "medium"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityMedium:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

func (s Severity) Valid() bool { return s.rank() > 0 }

// TransitionError reports an escalation that skips or regresses a tier.
type TransitionError struct {
	From Severity
	To   Severity
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("severity cannot move from %s to %s", e.From, e.To)
}

// Escalate returns to when it is exactly one tier above s.
func (s Severity) Escalate(to Severity) (Severity, error) {
	if !s.Valid() || !to.Valid() || to.rank() != s.rank()+1 {
		return s, TransitionError{From: s, To: to}
	}
	return to, nil
}

// EscalationRule is one edge of the severity state machine.
type EscalationRule struct {
	From     Severity
	To       Severity
	Statuses []IncidentStatus
	// MinAge is exclusive: the incident must be strictly older.
	MinAge time.Duration
}

// Matches reports whether inc is eligible for this rule at now.
func (r EscalationRule) Matches(inc Incident, now time.Time) bool {
	if inc.Severity != r.From {
		return false
	}
	if now.Sub(inc.OpenedAt) <= r.MinAge {
		return false
	}
	for _, st := range r.Statuses {
		if inc.Status == st {
			return true
		}
	}
	return false
}

// EscalationRules are applied in order, one query per tier.
var EscalationRules = []EscalationRule{
	{From: SeverityMinor, To: SeverityMedium, Statuses: []IncidentStatus{IncidentOpen}, MinAge: 48 * time.Hour},
	{From: SeverityMedium, To: SeverityCritical, Statuses: []IncidentStatus{IncidentOpen, IncidentInProgress}, MinAge: 72 * time.Hour},
}
