package server

import "stayops/internal/domain"

// Response payloads

type GenerateRecurringResponse struct {
	Success   bool `json:"success"`
	Generated int  `json:"generated"`
}

type EscalateIncidentsResponse struct {
	Success   bool `json:"success"`
	Escalated int  `json:"escalated"`
}

type IncidentRemindersResponse struct {
	Success       bool `json:"success"`
	RemindersSent int  `json:"reminders_sent"`
}

type ConflictsResponse struct {
	Conflicts []domain.Conflict `json:"conflicts"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// Huma outputs

type generateRecurringOutput struct {
	Body GenerateRecurringResponse
}

type escalateIncidentsOutput struct {
	Body EscalateIncidentsResponse
}

type incidentRemindersOutput struct {
	Body IncidentRemindersResponse
}

type conflictsOutput struct {
	Body ConflictsResponse
}

type healthOutput struct {
	Body HealthResponse
}

type conflictsInput struct {
	OrgID string `path:"org_id" doc:"Organisation id"`
	Start string `query:"start" required:"true" doc:"First date of the window (YYYY-MM-DD)" example:"2025-03-10"`
	End   string `query:"end" required:"true" doc:"Last date of the window, inclusive (YYYY-MM-DD)" example:"2025-03-16"`
}
