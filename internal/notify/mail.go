package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"

	"stayops/internal/config"
	"stayops/internal/domain"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends notifications as plain-text e-mail.
type Mailer struct {
	cfg  config.SMTPConfig
	send sendFunc
	now  func() time.Time
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (m *Mailer) Name() string { return "email" }

func (m *Mailer) Deliver(ctx context.Context, to domain.Member, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := m.compose(to, n)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{to.Email}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to.Email, err)
	}
	return nil
}

func (m *Mailer) compose(to domain.Member, n domain.Notification) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.now())
	h.SetSubject(n.Title)
	h.SetAddressList("From", []*mail.Address{{Name: "StayOps", Address: m.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Name: to.Name(), Address: to.Email}})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	h.Set("X-Stayops-Type", n.Type)
	if n.EntityID != "" {
		h.Set("X-Stayops-Entity", n.EntityType+"/"+n.EntityID)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("compose mail: %w", err)
	}
	if _, err := io.WriteString(w, n.Message+"\r\n"); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
