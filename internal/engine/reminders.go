package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stayops/internal/config"
	"stayops/internal/domain"
	"stayops/internal/events"
)

const sweepReminders = "reminders"

type ReminderResult struct {
	RemindersSent int `json:"reminders_sent"`
}

var reminderStatuses = []domain.IncidentStatus{domain.IncidentOpen, domain.IncidentInProgress}

func (e Engine) reminderInterval() time.Duration {
	if e.ReminderInterval > 0 {
		return e.ReminderInterval
	}
	return config.DefaultReminderInterval
}

// RunReminderSweep re-notifies tenant admins about incidents open longer than
// the reminder interval. A reminder-sent activity entry inside the interval
// suppresses the next one.
func (e Engine) RunReminderSweep(ctx context.Context) (res ReminderResult, err error) {
	started := time.Now()
	failures := 0
	defer func() { e.Metrics.ObserveSweep(sweepReminders, started, res.RemindersSent, failures, err) }()

	now := e.now()
	interval := e.reminderInterval()
	candidates, err := e.Repo.UnresolvedIncidentsOpenedBefore(ctx, "", reminderStatuses, now.Add(-interval))
	if err != nil {
		return res, err
	}
	log := e.logger().With(zap.String("sweep", sweepReminders))
	for _, inc := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sent, err := e.remind(ctx, inc, now, interval)
		if err != nil {
			failures++
			log.Error("incident reminder failed",
				zap.String("org_id", inc.OrgID),
				zap.String("incident_id", inc.ID),
				zap.Error(err))
			continue
		}
		if sent {
			res.RemindersSent++
		}
	}
	return res, nil
}

func (e Engine) remind(ctx context.Context, inc domain.Incident, now time.Time, interval time.Duration) (bool, error) {
	_, seen, err := e.Activity.LatestSince(ctx, inc.OrgID, "incident", inc.ID, domain.ActionReminderSent, now.Add(-interval))
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	recipients, err := e.Repo.MembersByRole(ctx, inc.OrgID, domain.RoleAdmin)
	if err != nil {
		return false, err
	}
	// A reminder with no admin to receive it leaves no witness.
	if len(recipients) == 0 {
		e.logger().Warn("no admins to remind",
			zap.String("org_id", inc.OrgID),
			zap.String("incident_id", inc.ID))
		return false, nil
	}
	daysOpen := int(now.Sub(inc.OpenedAt) / (24 * time.Hour))
	property := e.propertyLabel(ctx, inc.OrgID, inc.PropertyID)
	delivered := e.notify(ctx, recipients, domain.Notification{
		Type:       domain.NotificationIncidentReminder,
		Title:      fmt.Sprintf("Incident open for %d days", daysOpen),
		Message:    fmt.Sprintf("Incident at %s (%s) is still %s after %d days: %s", property, inc.Severity, inc.Status, daysOpen, inc.Description),
		EntityType: "incident",
		EntityID:   inc.ID,
	})
	if delivered == 0 {
		return false, fmt.Errorf("reminder reached none of %d admins", len(recipients))
	}
	if _, err := e.Activity.AppendAt(ctx, now, inc.OrgID, "incident", inc.ID, domain.ActionReminderSent, "", events.Payload{"days_open": daysOpen}); err != nil {
		return false, err
	}
	return true, nil
}
