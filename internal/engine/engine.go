// Package engine runs the time-driven sweeps: recurrence generation,
// schedule-conflict detection, incident escalation and incident reminders.
// Every procedure is stateless and coordinates only through row state.
package engine

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"stayops/internal/config"
	"stayops/internal/domain"
	"stayops/internal/events"
	"stayops/internal/metrics"
	"stayops/internal/repo"
)

// Notifier fans one notification out to recipients and returns how many in-app
// rows were written.
type Notifier interface {
	Fanout(ctx context.Context, recipients []domain.Member, n domain.Notification) int
}

type Engine struct {
	Repo             repo.Repo
	Activity         events.Writer
	Notifier         Notifier
	Log              *zap.Logger
	Metrics          *metrics.Metrics
	Location         *time.Location
	ReminderInterval time.Duration
	Now              func() time.Time
}

func New(db *sqlx.DB, cfg *config.Config, notifier Notifier, log *zap.Logger, m *metrics.Metrics) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Repo:             repo.Repo{DB: db},
		Activity:         events.Writer{DB: db},
		Notifier:         notifier,
		Log:              log,
		Metrics:          m,
		Location:         cfg.Location(),
		ReminderInterval: cfg.Reminders.Interval,
		Now:              time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Today returns the engine clock's current instant, the date recurrence runs for.
func (e Engine) Today() time.Time { return e.now() }

func (e Engine) loc() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.UTC
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) notify(ctx context.Context, recipients []domain.Member, n domain.Notification) int {
	if e.Notifier == nil {
		return 0
	}
	return e.Notifier.Fanout(ctx, recipients, n)
}

// propertyLabel names the property in notification text, falling back to its id.
func (e Engine) propertyLabel(ctx context.Context, orgID, propertyID string) string {
	name, err := e.Repo.PropertyName(ctx, orgID, propertyID)
	if err != nil || name == "" {
		return propertyID
	}
	return name
}

// dateOf returns midnight of t's calendar date in loc.
func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func sameDate(a, b time.Time, loc *time.Location) bool {
	return dateOf(a, loc).Equal(dateOf(b, loc))
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time, loc *time.Location) int {
	a, b = a.In(loc), b.In(loc)
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
