package stayopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal StayOps HTTP API client for periodic job runners and
// operator tooling.
type Client struct {
	BaseURL string
	// CronSecret authorizes the sweep trigger endpoints.
	CronSecret string
	// Token is an operator JWT for tenant endpoints.
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, cronSecret string) *Client {
	return &Client{
		BaseURL:    baseURL,
		CronSecret: cronSecret,
		Timeout:    60 * time.Second,
	}
}

// Conflict mirrors the API conflict model.
type Conflict struct {
	MissionAID   string    `json:"mission_a_id"`
	MissionBID   string    `json:"mission_b_id"`
	MissionAType string    `json:"mission_a_type"`
	MissionBType string    `json:"mission_b_type"`
	MissionAAt   time.Time `json:"mission_a_at"`
	MissionBAt   time.Time `json:"mission_b_at"`
	AssigneeID   string    `json:"assignee_id"`
	AssigneeName string    `json:"assignee_name"`
	DateLabel    string    `json:"date_label"`
	GapMinutes   int       `json:"gap_minutes"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type sweepResponse struct {
	Success       bool `json:"success"`
	Generated     int  `json:"generated"`
	Escalated     int  `json:"escalated"`
	RemindersSent int  `json:"reminders_sent"`
}

// GenerateRecurring runs the recurrence sweep and returns missions generated.
func (c *Client) GenerateRecurring(ctx context.Context) (int, error) {
	var resp sweepResponse
	err := c.do(ctx, "api/cron/generate-recurring", c.CronSecret, &resp)
	return resp.Generated, err
}

// EscalateIncidents runs the escalation sweep and returns incidents escalated.
func (c *Client) EscalateIncidents(ctx context.Context) (int, error) {
	var resp sweepResponse
	err := c.do(ctx, "api/cron/escalate-incidents", c.CronSecret, &resp)
	return resp.Escalated, err
}

// IncidentReminders runs the reminder sweep and returns reminders sent.
func (c *Client) IncidentReminders(ctx context.Context) (int, error) {
	var resp sweepResponse
	err := c.do(ctx, "api/cron/incident-reminders", c.CronSecret, &resp)
	return resp.RemindersSent, err
}

// Conflicts lists schedule conflicts for orgID between two YYYY-MM-DD dates.
func (c *Client) Conflicts(ctx context.Context, orgID, start, end string) ([]Conflict, error) {
	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)
	endpoint := fmt.Sprintf("api/orgs/%s/conflicts?%s", url.PathEscape(orgID), q.Encode())
	var resp struct {
		Conflicts []Conflict `json:"conflicts"`
	}
	err := c.do(ctx, endpoint, c.Token, &resp)
	return resp.Conflicts, err
}

func (c *Client) do(ctx context.Context, endpoint, token string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(bytes.NewReader(b)).Decode(&envelope) == nil {
			apiErr.Message = envelope.Error
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
