package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stayops/internal/config"
	"stayops/internal/domain"
	"stayops/internal/metrics"
	"stayops/internal/repo"
	"stayops/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type recordingChannel struct {
	mu   sync.Mutex
	to   []string
	fail bool
}

func (c *recordingChannel) Name() string { return "test" }

func (c *recordingChannel) Deliver(_ context.Context, to domain.Member, _ domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to.UserID)
	if c.fail {
		return errors.New("mailbox full")
	}
	return nil
}

func newDispatcher(t *testing.T, ch Channel) (Dispatcher, repo.Repo) {
	t.Helper()
	r := repo.Repo{DB: testutil.NewTestDB(t)}
	testutil.SeedOrg(t, r, "org1")
	return Dispatcher{
		Repo:        r,
		Channel:     ch,
		Concurrency: 2,
		Metrics:     metrics.New(nil),
		Now:         func() time.Time { return fixedNow },
	}, r
}

func escalation() domain.Notification {
	return domain.Notification{
		Type:       domain.NotificationIncidentEscalated,
		Title:      "Incident escalated",
		Message:    "Leak at Villa Mimosa is now medium",
		EntityType: "incident",
		EntityID:   "inc-1",
	}
}

func TestFanoutWritesOneRowPerRecipient(t *testing.T) {
	ch := &recordingChannel{}
	d, r := newDispatcher(t, ch)
	ctx := context.Background()
	recipients, err := r.MembersByRole(ctx, "org1", domain.RoleAdmin, domain.RoleManager)
	require.NoError(t, err)
	require.Len(t, recipients, 2)

	assert.Equal(t, 2, d.Fanout(ctx, recipients, escalation()))

	count, err := r.CountNotifications(ctx, "org1", "incident", "inc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	list, err := r.ListNotifications(ctx, "org1", "org1-admin")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotificationIncidentEscalated, list[0].Type)
	assert.Equal(t, fixedNow, list[0].CreatedAt)
	assert.False(t, list[0].Read)

	// only the admin has an e-mail address
	assert.Equal(t, []string{"org1-admin"}, ch.to)
}

func TestFanoutIsolatesRecipientFailures(t *testing.T) {
	ch := &recordingChannel{fail: true}
	d, r := newDispatcher(t, ch)
	ctx := context.Background()
	recipients := []domain.Member{
		{OrgID: "org1", UserID: "org1-admin", Email: "a@example.com"},
		{OrgID: "", UserID: "broken"},
		{OrgID: "org1", UserID: "org1-manager"},
	}

	assert.Equal(t, 2, d.Fanout(ctx, recipients, escalation()))
	count, err := r.CountNotifications(ctx, "org1", "incident", "inc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "outbound failure must not undo the in-app row")
}

func TestFanoutEmpty(t *testing.T) {
	d, _ := newDispatcher(t, nil)
	assert.Equal(t, 0, d.Fanout(context.Background(), nil, escalation()))
}

func TestMailerComposesMessage(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		raw     []byte
	)
	m := NewMailer(config.SMTPConfig{Host: "smtp.example.com", Port: 2525, From: "ops@example.com"})
	m.now = func() time.Time { return fixedNow }
	m.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, raw = addr, to, msg
		return nil
	}
	n := escalation()
	n.ID = "n-1"
	require.NoError(t, m.Deliver(context.Background(), domain.Member{UserID: "u1", DisplayName: "Ada", Email: "ada@example.com"}, n))
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Incident escalated", subject)
	assert.Equal(t, "incident/inc-1", mr.Header.Get("X-Stayops-Entity"))

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Leak at Villa Mimosa")
}

func TestMailerWrapsSendError(t *testing.T) {
	m := NewMailer(config.SMTPConfig{Host: "smtp.example.com", Port: 25, From: "ops@example.com"})
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 rejected") }
	err := m.Deliver(context.Background(), domain.Member{UserID: "u1", Email: "ada@example.com"}, escalation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550 rejected")
}

func TestWebhookPostsNotification(t *testing.T) {
	var (
		got     webhookPayload
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	defer hook.client.CloseIdleConnections()
	n := escalation()
	n.ID, n.OrgID, n.UserID, n.CreatedAt = "n-1", "org1", "u1", fixedNow
	require.NoError(t, hook.Deliver(context.Background(), domain.Member{UserID: "u1"}, n))

	assert.Equal(t, "s3cret", headers.Get("X-Stayops-Secret"))
	assert.Equal(t, domain.NotificationIncidentEscalated, headers.Get("X-Stayops-Event"))
	assert.Equal(t, "n-1", got.ID)
	assert.Equal(t, "2025-03-10T09:00:00Z", got.TS)
}

func TestWebhookRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := NewWebhook(config.WebhookConfig{URL: srv.URL})
	defer hook.client.CloseIdleConnections()
	err := hook.Deliver(context.Background(), domain.Member{}, escalation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(config.NotifyConfig{}))
	assert.Equal(t, "email", FromConfig(config.NotifyConfig{SMTP: config.SMTPConfig{Host: "h", From: "f"}}).Name())
	assert.Equal(t, "webhook", FromConfig(config.NotifyConfig{Webhook: config.WebhookConfig{URL: "http://x"}}).Name())
}
