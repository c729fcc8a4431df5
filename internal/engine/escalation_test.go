package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/domain"
)

func TestMinorEscalatesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addIncident(t, "inc-leak", domain.SeverityMinor, domain.IncidentOpen, 49*time.Hour)

	res, err := env.Engine.RunEscalationSweep(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)
	assert.Equal(t, domain.SeverityMedium, env.severity(t, "inc-leak"))
	assert.Equal(t, 2, env.notifications(t, "inc-leak"), "admin and manager are notified")

	inc, err := env.Repo.GetIncident(env.Ctx, "org1", "inc-leak")
	require.NoError(t, err)
	assert.True(t, inc.UpdatedAt.Equal(monday))

	list, err := env.Repo.ListNotifications(env.Ctx, "org1", "org1-manager")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotificationIncidentEscalated, list[0].Type)
	assert.Contains(t, list[0].Message, "Villa Mimosa")
	assert.Contains(t, list[0].Message, "minor to medium")

	res, err = env.Engine.RunEscalationSweep(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)
	assert.Equal(t, 2, env.notifications(t, "inc-leak"))
}

func TestEscalationThresholds(t *testing.T) {
	env := newTestEnv(t)
	env.addIncident(t, "minor-47h", domain.SeverityMinor, domain.IncidentOpen, 47*time.Hour)
	env.addIncident(t, "minor-48h", domain.SeverityMinor, domain.IncidentOpen, 48*time.Hour)
	env.addIncident(t, "minor-progress", domain.SeverityMinor, domain.IncidentInProgress, 100*time.Hour)
	env.addIncident(t, "medium-73h", domain.SeverityMedium, domain.IncidentInProgress, 73*time.Hour)
	env.addIncident(t, "medium-47h", domain.SeverityMedium, domain.IncidentInProgress, 47*time.Hour)
	env.addIncident(t, "medium-resolved", domain.SeverityMedium, domain.IncidentResolved, 200*time.Hour)
	env.addIncident(t, "critical", domain.SeverityCritical, domain.IncidentOpen, 500*time.Hour)

	res, err := env.Engine.RunEscalationSweep(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)

	for id, want := range map[string]domain.Severity{
		"minor-47h":       domain.SeverityMinor,
		"minor-48h":       domain.SeverityMinor,
		"minor-progress":  domain.SeverityMinor,
		"medium-73h":      domain.SeverityCritical,
		"medium-47h":      domain.SeverityMedium,
		"medium-resolved": domain.SeverityMedium,
		"critical":        domain.SeverityCritical,
	} {
		assert.Equal(t, want, env.severity(t, id), id)
	}
	assert.Equal(t, 0, env.notifications(t, "medium-resolved"))
}

func TestEscalationMovesOneTierPerIncidentPerSweep(t *testing.T) {
	env := newTestEnv(t)
	env.addIncident(t, "old", domain.SeverityMinor, domain.IncidentOpen, 10*24*time.Hour)

	res, err := env.Engine.RunEscalationSweep(env.Ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Escalated)
	assert.Equal(t, domain.SeverityMedium, env.severity(t, "old"))

	res, err = env.Engine.RunEscalationSweep(env.Ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Escalated)
	assert.Equal(t, domain.SeverityCritical, env.severity(t, "old"))

	res, err = env.Engine.RunEscalationSweep(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)
}

func TestEscalationIsTenantScopedOnWrite(t *testing.T) {
	env := newTestEnv(t)
	env.addIncident(t, "inc", domain.SeverityMinor, domain.IncidentOpen, 49*time.Hour)

	changed, err := env.Repo.EscalateIncident(env.Ctx, "org2", "inc", domain.SeverityMinor, domain.SeverityMedium, monday)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.SeverityMinor, env.severity(t, "inc"))
}
