package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/domain"
	"stayops/internal/repo"
	"stayops/internal/testutil"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	r := repo.Repo{DB: testutil.NewTestDB(t)}
	testutil.SeedOrg(t, r, "org-a")
	testutil.SeedOrg(t, r, "org-b")
	return r
}

func TestMissionQueriesAreTenantScoped(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	for _, m := range []domain.Mission{
		{ID: "a1", OrgID: "org-a", PropertyID: "org-a-villa", Type: domain.MissionCleaning, Status: domain.MissionTodo, ScheduledAt: at, AssignedTo: testutil.Ptr("org-a-worker")},
		{ID: "a2", OrgID: "org-a", PropertyID: "org-a-villa", Type: domain.MissionCheckIn, Status: domain.MissionCancelled, ScheduledAt: at, AssignedTo: testutil.Ptr("org-a-worker")},
		{ID: "a3", OrgID: "org-a", PropertyID: "org-a-villa", Type: domain.MissionCheckOut, Status: domain.MissionTodo, ScheduledAt: at},
		{ID: "b1", OrgID: "org-b", PropertyID: "org-b-villa", Type: domain.MissionCleaning, Status: domain.MissionTodo, ScheduledAt: at, AssignedTo: testutil.Ptr("org-b-worker")},
	} {
		m.CreatedAt, m.UpdatedAt = at, at
		require.NoError(t, r.InsertMission(ctx, nil, m))
	}

	got, err := r.AssignedMissionsBetween(ctx, "org-a", at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "org-a-worker", *got[0].AssignedTo)

	all, err := r.ListMissions(ctx, "org-a", at, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = r.GetMission(ctx, "org-b", "a1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMembersLookups(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	admins, err := r.MembersByRole(ctx, "org-a", domain.RoleAdmin, domain.RoleManager)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, "org-a-admin", admins[0].UserID)
	assert.Equal(t, "org-a-admin@example.com", admins[0].Email)
	assert.Equal(t, "org-a-manager", admins[1].UserID)

	byID, err := r.MembersByIDs(ctx, "org-a", []string{"org-a-worker", "org-b-worker", "ghost"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "Wes Worker", byID["org-a-worker"].Name())

	assert.Error(t, r.UpsertMember(ctx, domain.Member{OrgID: "org-a", UserID: "x", Role: "owner"}))
}

func TestEscalateIncidentIsCompareAndSet(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	opened := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, r.InsertIncident(ctx, domain.Incident{
		ID: "inc-1", OrgID: "org-a", PropertyID: "org-a-villa", Severity: domain.SeverityMinor,
		Status: domain.IncidentOpen, OpenedAt: opened, CreatedAt: opened, UpdatedAt: opened,
	}))
	now := opened.Add(50 * time.Hour)

	ok, err := r.EscalateIncident(ctx, "org-b", "inc-1", domain.SeverityMinor, domain.SeverityMedium, now)
	require.NoError(t, err)
	assert.False(t, ok, "other tenant must not touch the row")

	ok, err = r.EscalateIncident(ctx, "org-a", "inc-1", domain.SeverityMinor, domain.SeverityMedium, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.EscalateIncident(ctx, "org-a", "inc-1", domain.SeverityMinor, domain.SeverityMedium, now)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected severity must not apply")

	inc, err := r.GetIncident(ctx, "org-a", "inc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityMedium, inc.Severity)
	assert.True(t, inc.UpdatedAt.Equal(now))

	require.NoError(t, r.SetIncidentStatus(ctx, "org-a", "inc-1", domain.IncidentResolved, now))
	ok, err = r.EscalateIncident(ctx, "org-a", "inc-1", domain.SeverityMedium, domain.SeverityCritical, now)
	require.NoError(t, err)
	assert.False(t, ok, "resolved incidents are terminal")
}

func TestTemplateRoundTripAndStamp(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.InsertTemplate(ctx, domain.RecurrenceTemplate{
		ID: "tpl-1", OrgID: "org-a", PropertyID: "org-a-villa", MissionType: domain.MissionCleaning,
		Frequency: domain.Weekly, DayOfWeek: testutil.Ptr(1), ScheduledTime: "09:00", Active: true,
		CreatedAt: created, UpdatedAt: created,
	}))
	require.NoError(t, r.InsertTemplate(ctx, domain.RecurrenceTemplate{
		ID: "tpl-off", OrgID: "org-b", PropertyID: "org-b-villa", MissionType: domain.MissionCleaning,
		Frequency: domain.Monthly, DayOfMonth: testutil.Ptr(31), ScheduledTime: "10:00", Active: false,
		CreatedAt: created, UpdatedAt: created,
	}))

	active, err := r.ActiveTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "tpl-1", active[0].ID)
	assert.Nil(t, active[0].LastGeneratedAt)
	assert.Equal(t, domain.PriorityNormal, active[0].Priority)

	stamp := created.Add(24 * time.Hour)
	require.NoError(t, r.MarkTemplateGenerated(ctx, nil, "org-a", "tpl-1", stamp))
	assert.ErrorIs(t, r.MarkTemplateGenerated(ctx, nil, "org-b", "tpl-1", stamp), repo.ErrNotFound)

	tpl, err := r.GetTemplate(ctx, "org-a", "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, tpl.LastGeneratedAt)
	assert.True(t, tpl.LastGeneratedAt.Equal(stamp))
}
