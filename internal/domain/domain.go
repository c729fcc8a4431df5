package domain

import "time"

type Organisation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleWorker  Role = "worker"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleWorker:
		return true
	}
	return false
}

type Member struct {
	OrgID       string `json:"org_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        Role   `json:"role" enum:"admin,manager,worker"`
}

// Name returns the display name, falling back to the user id.
func (m Member) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.UserID
}

type Property struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

type MissionType string

const (
	MissionCheckIn      MissionType = "check_in"
	MissionCheckOut     MissionType = "check_out"
	MissionCleaning     MissionType = "cleaning"
	MissionIntervention MissionType = "intervention"
	MissionEmergency    MissionType = "emergency"
)

func (t MissionType) Valid() bool {
	switch t {
	case MissionCheckIn, MissionCheckOut, MissionCleaning, MissionIntervention, MissionEmergency:
		return true
	}
	return false
}

type MissionStatus string

const (
	MissionTodo       MissionStatus = "todo"
	MissionInProgress MissionStatus = "in_progress"
	MissionDone       MissionStatus = "done"
	MissionCancelled  MissionStatus = "cancelled"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Mission is a concrete scheduled task at a property.
type Mission struct {
	ID          string        `json:"id"`
	OrgID       string        `json:"org_id"`
	PropertyID  string        `json:"property_id"`
	Type        MissionType   `json:"type" enum:"check_in,check_out,cleaning,intervention,emergency"`
	Status      MissionStatus `json:"status" enum:"todo,in_progress,done,cancelled"`
	Priority    string        `json:"priority"`
	ScheduledAt time.Time     `json:"scheduled_at" format:"date-time"`
	AssignedTo  *string       `json:"assigned_to,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time     `json:"updated_at" format:"date-time"`
}

type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Biweekly, Monthly:
		return true
	}
	return false
}

// RecurrenceTemplate materializes missions on a weekly, biweekly or monthly rule.
// LastGeneratedAt is the per-row idempotency witness.
type RecurrenceTemplate struct {
	ID              string      `json:"id"`
	OrgID           string      `json:"org_id"`
	PropertyID      string      `json:"property_id"`
	MissionType     MissionType `json:"mission_type"`
	Priority        string      `json:"priority"`
	Frequency       Frequency   `json:"frequency" enum:"weekly,biweekly,monthly"`
	DayOfWeek       *int        `json:"day_of_week,omitempty"`
	DayOfMonth      *int        `json:"day_of_month,omitempty"`
	ScheduledTime   string      `json:"scheduled_time"`
	AssignedTo      *string     `json:"assigned_to,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Active          bool        `json:"active"`
	LastGeneratedAt *time.Time  `json:"last_generated_at,omitempty" format:"date-time"`
	CreatedAt       time.Time   `json:"created_at" format:"date-time"`
	UpdatedAt       time.Time   `json:"updated_at" format:"date-time"`
}

type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "open"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentResolved   IncidentStatus = "resolved"
	IncidentClosed     IncidentStatus = "closed"
)

// Unresolved reports whether escalation and reminders still apply.
func (s IncidentStatus) Unresolved() bool {
	return s == IncidentOpen || s == IncidentInProgress
}

type Incident struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	PropertyID  string         `json:"property_id"`
	Severity    Severity       `json:"severity" enum:"minor,medium,critical"`
	Status      IncidentStatus `json:"status" enum:"open,in_progress,resolved,closed"`
	Description string         `json:"description"`
	OpenedAt    time.Time      `json:"opened_at" format:"date-time"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty" format:"date-time"`
	Cost        *float64       `json:"cost,omitempty"`
	CreatedAt   time.Time      `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time      `json:"updated_at" format:"date-time"`
}

const ActionReminderSent = "reminder-sent"

// ActivityEntry is an activity log row. A nil ActorID marks a system write.
type ActivityEntry struct {
	ID         int64          `json:"id"`
	OrgID      string         `json:"org_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	ActorID    *string        `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at" format:"date-time"`
}

const (
	NotificationIncidentEscalated = "incident_escalated"
	NotificationIncidentReminder  = "incident_reminder"
)

type Notification struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
}

// Conflict is a pair of missions for one assignee scheduled too close together.
type Conflict struct {
	MissionAID   string      `json:"mission_a_id"`
	MissionBID   string      `json:"mission_b_id"`
	MissionAType MissionType `json:"mission_a_type"`
	MissionBType MissionType `json:"mission_b_type"`
	MissionAAt   time.Time   `json:"mission_a_at" format:"date-time"`
	MissionBAt   time.Time   `json:"mission_b_at" format:"date-time"`
	AssigneeID   string      `json:"assignee_id"`
	AssigneeName string      `json:"assignee_name"`
	DateLabel    string      `json:"date_label"`
	GapMinutes   int         `json:"gap_minutes"`
}
