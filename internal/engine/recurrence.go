package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"stayops/internal/domain"
)

const (
	sweepRecurrence = "recurrence"
	autoNotePrefix  = "[auto] "
	biweeklyDays    = 14
)

type RecurrenceResult struct {
	Generated int `json:"generated"`
}

// GenerateDueOccurrences materializes one mission per active template due on
// today, across every tenant. A template already generated on today's date is
// skipped.
func (e Engine) GenerateDueOccurrences(ctx context.Context, today time.Time) (res RecurrenceResult, err error) {
	started := time.Now()
	failures := 0
	defer func() { e.Metrics.ObserveSweep(sweepRecurrence, started, res.Generated, failures, err) }()

	templates, err := e.Repo.ActiveTemplates(ctx)
	if err != nil {
		return res, err
	}
	loc := e.loc()
	log := e.logger().With(zap.String("sweep", sweepRecurrence))
	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if t.LastGeneratedAt != nil && sameDate(*t.LastGeneratedAt, today, loc) {
			continue
		}
		if !IsDue(t, today, loc) {
			continue
		}
		if err := e.generate(ctx, t, today); err != nil {
			failures++
			log.Error("template generation failed",
				zap.String("org_id", t.OrgID),
				zap.String("template_id", t.ID),
				zap.Error(err))
			continue
		}
		res.Generated++
	}
	return res, nil
}

func (e Engine) generate(ctx context.Context, t domain.RecurrenceTemplate, today time.Time) error {
	at, err := scheduledAt(today, t.ScheduledTime, e.loc())
	if err != nil {
		return err
	}
	now := e.now()
	m := domain.Mission{
		ID:          uuid.NewString(),
		OrgID:       t.OrgID,
		PropertyID:  t.PropertyID,
		Type:        t.MissionType,
		Status:      domain.MissionTodo,
		Priority:    t.Priority,
		ScheduledAt: at,
		AssignedTo:  t.AssignedTo,
		Notes:       autoNote(t.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return e.Repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
			return err
		}
		return e.Repo.MarkTemplateGenerated(ctx, tx, t.OrgID, t.ID, now)
	})
}

// IsDue reports whether t fires on day's calendar date in loc. Weekly and
// monthly rules depend on the date alone; biweekly depends only on the days
// elapsed since the last generation.
func IsDue(t domain.RecurrenceTemplate, day time.Time, loc *time.Location) bool {
	d := day.In(loc)
	switch t.Frequency {
	case domain.Weekly:
		return t.DayOfWeek != nil && int(d.Weekday()) == *t.DayOfWeek
	case domain.Monthly:
		if t.DayOfMonth == nil || *t.DayOfMonth < 1 {
			return false
		}
		return d.Day() == clampDay(*t.DayOfMonth, d.Year(), d.Month())
	case domain.Biweekly:
		if t.LastGeneratedAt == nil {
			return true
		}
		return daysBetween(*t.LastGeneratedAt, d, loc) >= biweeklyDays
	}
	return false
}

// clampDay maps dom onto the month, so 31 fires on the last day of a 30-day month.
func clampDay(dom, year int, month time.Month) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if dom > last {
		return last
	}
	return dom
}

// scheduledAt combines day's date with an HH:MM wall clock in loc.
func scheduledAt(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	hhmm = strings.TrimSpace(hhmm)
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		if clock, err = time.Parse("15:04:05", hhmm); err != nil {
			return time.Time{}, fmt.Errorf("invalid scheduled_time %q", hhmm)
		}
	}
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

func autoNote(notes string) string {
	if strings.HasPrefix(notes, autoNotePrefix) {
		return notes
	}
	return strings.TrimSpace(autoNotePrefix + notes)
}
