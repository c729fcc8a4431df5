package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stayops/internal/config"
	"stayops/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts each notification as JSON to a configured URL.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhook(cfg config.WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{url: cfg.URL, secret: cfg.Secret, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id"`
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	TS         string `json:"ts"`
}

func (w *Webhook) Deliver(ctx context.Context, to domain.Member, n domain.Notification) error {
	data, err := json.Marshal(webhookPayload{
		ID:         n.ID,
		Type:       n.Type,
		OrgID:      n.OrgID,
		UserID:     n.UserID,
		Email:      to.Email,
		Title:      n.Title,
		Message:    n.Message,
		EntityType: n.EntityType,
		EntityID:   n.EntityID,
		TS:         n.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stayops-Event", n.Type)
	req.Header.Set("X-Stayops-Delivery", n.ID)
	req.Header.Set("X-Stayops-Org", n.OrgID)
	if strings.TrimSpace(w.secret) != "" {
		req.Header.Set("X-Stayops-Secret", w.secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// FromConfig picks the outbound channel: SMTP when a host is set, then the
// webhook, otherwise none.
func FromConfig(cfg config.NotifyConfig) Channel {
	switch {
	case cfg.SMTP.Enabled():
		return NewMailer(cfg.SMTP)
	case cfg.Webhook.Enabled():
		return NewWebhook(cfg.Webhook)
	}
	return nil
}
