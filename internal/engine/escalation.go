package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stayops/internal/domain"
)

const sweepEscalation = "escalation"

type EscalationResult struct {
	Escalated int `json:"escalated"`
}

// EscalationRecipients are notified when an incident changes tier.
var EscalationRecipients = []domain.Role{domain.RoleAdmin, domain.RoleManager}

// RunEscalationSweep applies domain.EscalationRules in order across every
// tenant. Each tier re-queries current state; an incident moved by an earlier
// tier in the same sweep is left for the next one.
func (e Engine) RunEscalationSweep(ctx context.Context) (res EscalationResult, err error) {
	started := time.Now()
	failures := 0
	defer func() { e.Metrics.ObserveSweep(sweepEscalation, started, res.Escalated, failures, err) }()

	now := e.now()
	log := e.logger().With(zap.String("sweep", sweepEscalation))
	moved := make(map[string]struct{})
	for _, rule := range domain.EscalationRules {
		candidates, err := e.Repo.UnresolvedIncidentsOpenedBefore(ctx, rule.From, rule.Statuses, now.Add(-rule.MinAge))
		if err != nil {
			return res, fmt.Errorf("escalation tier %s->%s: %w", rule.From, rule.To, err)
		}
		for _, inc := range candidates {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			key := inc.OrgID + "/" + inc.ID
			if _, done := moved[key]; done || !rule.Matches(inc, now) {
				continue
			}
			ok, err := e.escalate(ctx, inc, rule, now)
			if err != nil {
				failures++
				log.Error("incident escalation failed",
					zap.String("org_id", inc.OrgID),
					zap.String("incident_id", inc.ID),
					zap.Error(err))
				continue
			}
			if ok {
				moved[key] = struct{}{}
				res.Escalated++
			}
		}
	}
	return res, nil
}

func (e Engine) escalate(ctx context.Context, inc domain.Incident, rule domain.EscalationRule, now time.Time) (bool, error) {
	next, err := inc.Severity.Escalate(rule.To)
	if err != nil {
		return false, err
	}
	changed, err := e.Repo.EscalateIncident(ctx, inc.OrgID, inc.ID, inc.Severity, next, now)
	if err != nil || !changed {
		return false, err
	}

	recipients, err := e.Repo.MembersByRole(ctx, inc.OrgID, EscalationRecipients...)
	if err != nil {
		e.logger().Warn("escalation recipients lookup failed",
			zap.String("org_id", inc.OrgID),
			zap.String("incident_id", inc.ID),
			zap.Error(err))
		return true, nil
	}
	property := e.propertyLabel(ctx, inc.OrgID, inc.PropertyID)
	delivered := e.notify(ctx, recipients, domain.Notification{
		Type:       domain.NotificationIncidentEscalated,
		Title:      fmt.Sprintf("Incident escalated to %s", next),
		Message:    fmt.Sprintf("Incident at %s escalated from %s to %s: %s", property, inc.Severity, next, inc.Description),
		EntityType: "incident",
		EntityID:   inc.ID,
	})
	if delivered < len(recipients) {
		e.logger().Warn("escalation notice partially delivered",
			zap.String("org_id", inc.OrgID),
			zap.String("incident_id", inc.ID),
			zap.Int("delivered", delivered),
			zap.Int("recipients", len(recipients)))
	}
	return true, nil
}
