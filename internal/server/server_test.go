package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/domain"
	"stayops/internal/engine"
	"stayops/internal/events"
	"stayops/internal/metrics"
	"stayops/internal/notify"
	"stayops/internal/repo"
	"stayops/internal/testutil"
)

const (
	cronSecret = "cron-s3cret"
	jwtSecret  = "jwt-s3cret"
)

var monday = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Repo   repo.Repo
	DB     *sqlx.DB
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn := testutil.NewTestDB(t)
	r := repo.Repo{DB: conn}
	testutil.SeedOrg(t, r, "org1")
	testutil.SeedOrg(t, r, "org2")

	clock := func() time.Time { return monday }
	m := metrics.New(nil)
	e := engine.Engine{
		Repo:     r,
		Activity: events.Writer{DB: conn, Now: clock},
		Notifier: notify.Dispatcher{Repo: r, Concurrency: 2, Metrics: m, Now: clock},
		Metrics:  m,
		Location: time.UTC,
		Now:      clock,
	}
	handler, err := New(Config{
		Engine:  e,
		Auth:    AuthConfig{CronSecret: cronSecret, JWTSecret: jwtSecret},
		Metrics: m,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Repo: r, DB: conn, client: srv.Client()}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func operatorToken(t *testing.T, orgID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   orgID + "-manager",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrgID: orgID,
		Role:  string(domain.RoleManager),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func errorMessage(t *testing.T, data []byte) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	msg, ok := body["error"].(string)
	require.True(t, ok, "error envelope: %s", data)
	return msg
}

func TestNewRequiresCronSecret(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCronEndpointsRequireSecret(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/api/cron/generate-recurring", "/api/cron/escalate-incidents", "/api/cron/incident-reminders"} {
		res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, path)
		assert.NotEmpty(t, errorMessage(t, data))

		res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+path, nil, bearer("wrong"))
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, path)

		res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+path, nil, map[string]string{"Authorization": cronSecret})
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "scheme is required")
	}
}

func TestGenerateRecurringEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, srv.Repo.InsertTemplate(ctx, domain.RecurrenceTemplate{
		ID: "tpl", OrgID: "org1", PropertyID: "org1-villa", MissionType: domain.MissionCleaning,
		Frequency: domain.Weekly, DayOfWeek: testutil.Ptr(1), ScheduledTime: "09:00", Active: true,
		CreatedAt: monday, UpdatedAt: monday,
	}))

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/cron/generate-recurring", nil, bearer(cronSecret))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out GenerateRecurringResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, GenerateRecurringResponse{Success: true, Generated: 1}, out)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/cron/generate-recurring", nil, bearer(cronSecret))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0, out.Generated)
}

func TestIncidentSweepEndpoints(t *testing.T) {
	srv := newTestServer(t)
	opened := monday.Add(-8 * 24 * time.Hour)
	require.NoError(t, srv.Repo.InsertIncident(context.Background(), domain.Incident{
		ID: "inc", OrgID: "org1", PropertyID: "org1-villa", Severity: domain.SeverityMinor,
		Status: domain.IncidentOpen, Description: "Broken shutter", OpenedAt: opened, CreatedAt: opened, UpdatedAt: opened,
	}))

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/cron/escalate-incidents", nil, bearer(cronSecret))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"success":true,"escalated":1}`, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/cron/incident-reminders", nil, bearer(cronSecret))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"success":true,"reminders_sent":1}`, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/cron/incident-reminders", nil, bearer(cronSecret))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true,"reminders_sent":0}`, string(data))
}

func TestCronEndpointReportsSystemicFailure(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.DB.Close())

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/cron/escalate-incidents", nil, bearer(cronSecret))
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Contains(t, errorMessage(t, data), "closed")
}

func TestConflictsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for i, at := range []time.Time{monday, monday.Add(90 * time.Minute)} {
		require.NoError(t, srv.Repo.InsertMission(ctx, nil, domain.Mission{
			ID: []string{"m1", "m2"}[i], OrgID: "org1", PropertyID: "org1-villa", Type: domain.MissionCheckIn,
			Status: domain.MissionTodo, ScheduledAt: at, AssignedTo: testutil.Ptr("org1-worker"),
			CreatedAt: monday, UpdatedAt: monday,
		}))
	}
	url := srv.URL + "/api/orgs/org1/conflicts?start=2025-03-10&end=2025-03-16"

	res, data := doJSON(t, srv.client, http.MethodGet, url, nil, bearer(operatorToken(t, "org1")))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out ConflictsResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, "m1", out.Conflicts[0].MissionAID)
	assert.Equal(t, "Wes Worker", out.Conflicts[0].AssigneeName)
	assert.Equal(t, 90, out.Conflicts[0].GapMinutes)

	res, data = doJSON(t, srv.client, http.MethodGet, url, nil, bearer(operatorToken(t, "org2")))
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.client, http.MethodGet, url, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodGet, url, nil, bearer(cronSecret))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "cron secret is not an operator token")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/orgs/org1/conflicts?start=2025-03-16&end=2025-03-10", nil, bearer(operatorToken(t, "org1")))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, errorMessage(t, data), "before")

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/orgs/org1/conflicts?start=10/03/2025&end=2025-03-10", nil, bearer(operatorToken(t, "org1")))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/orgs/org2/conflicts?start=2025-03-10&end=2025-03-16", nil, bearer(operatorToken(t, "org2")))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"conflicts":[]}`, string(data))
}

func TestHealthOpenAPIAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/api/cron/generate-recurring")
	assert.Contains(t, string(data), "operatorJWT")

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/cron/escalate-incidents", nil, bearer(cronSecret))
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := string(data)
	assert.True(t, strings.Contains(body, `stayops_sweep_runs_total{outcome="success",sweep="escalation"} 1`), body)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/cron/escalate-incidents",status="200"}`)
}
