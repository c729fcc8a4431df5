package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/domain"
	"stayops/internal/engine"
	tu "stayops/internal/testutil"
)

func TestConflictThresholdIsStrict(t *testing.T) {
	env := newTestEnv(t)
	env.addMission(t, "org1", "m1", "org1-worker", monday)
	env.addMission(t, "org1", "m2", "org1-worker", monday.Add(2*time.Hour+time.Second))
	env.addMission(t, "org1", "m3", "org1-manager", monday)
	env.addMission(t, "org1", "m4", "org1-manager", monday.Add(2*time.Hour-time.Second))
	env.addMission(t, "org1", "m5", "org1-admin", monday)
	env.addMission(t, "org1", "m6", "org1-admin", monday.Add(2*time.Hour))

	got, err := env.Engine.DetectConflicts(env.Ctx, "org1", monday, monday)
	require.NoError(t, err)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "m3", c.MissionAID)
	assert.Equal(t, "m4", c.MissionBID)
	assert.Equal(t, "org1-manager", c.AssigneeID)
	assert.Equal(t, "Max Manager", c.AssigneeName)
	assert.Equal(t, 119, c.GapMinutes)
	assert.Equal(t, "Mon 10 Mar 2025, 09:00 and 10:59", c.DateLabel)
}

func TestConflictsRespectAssigneeAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addMission(t, "org1", "w1", "org1-worker", monday)
	env.addMission(t, "org1", "a1", "org1-admin", monday.Add(10*time.Minute))
	env.addMission(t, "org1", "u1", "", monday.Add(5*time.Minute))
	env.addMission(t, "org2", "x1", "org1-worker", monday.Add(time.Minute))
	require.NoError(t, env.Repo.InsertMission(env.Ctx, nil, domain.Mission{
		ID: "c1", OrgID: "org1", PropertyID: "org1-villa", Type: domain.MissionCheckIn,
		Status: domain.MissionCancelled, ScheduledAt: monday.Add(time.Minute),
		AssignedTo: tu.Ptr("org1-worker"), CreatedAt: monday, UpdatedAt: monday,
	}))

	got, err := env.Engine.DetectConflicts(env.Ctx, "org1", monday, monday)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConflictsEveryPairOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addMission(t, "org1", "b", "org1-worker", monday.Add(30*time.Minute))
	env.addMission(t, "org1", "a", "org1-worker", monday)
	env.addMission(t, "org1", "c", "org1-worker", monday.Add(time.Hour))
	env.addMission(t, "org1", "g", "ghost", monday)
	env.addMission(t, "org1", "h", "ghost", monday.Add(time.Minute))

	got, err := env.Engine.DetectConflicts(env.Ctx, "org1", monday, monday)
	require.NoError(t, err)
	require.Len(t, got, 4)

	pairs := make(map[string]bool)
	for _, c := range got {
		key := c.MissionAID + "-" + c.MissionBID
		assert.False(t, pairs[key], "duplicate pair %s", key)
		pairs[key] = true
		if c.AssigneeID == "ghost" {
			assert.Equal(t, "ghost", c.AssigneeName, "unknown member falls back to the id")
		}
	}
	assert.Equal(t, map[string]bool{"a-b": true, "g-h": true, "a-c": true, "b-c": true}, pairs)
}

func TestConflictWindowBounds(t *testing.T) {
	env := newTestEnv(t)
	day := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	env.addMission(t, "org1", "late", "org1-worker", day.Add(23*time.Hour+59*time.Minute+59*time.Second))
	env.addMission(t, "org1", "later", "org1-worker", day.Add(23*time.Hour+30*time.Minute))
	env.addMission(t, "org1", "next", "org1-worker", day.AddDate(0, 0, 1))

	got, err := env.Engine.DetectConflicts(env.Ctx, "org1", day, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "later", got[0].MissionAID)
	assert.Equal(t, "late", got[0].MissionBID)

	got, err = env.Engine.DetectConflicts(env.Ctx, "org1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = env.Engine.DetectConflicts(env.Ctx, "org1", day, day.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, engine.ErrInvalidWindow)
}

func TestFindConflictsOrderIndependent(t *testing.T) {
	ms := []domain.Mission{
		{ID: "m1", Type: domain.MissionCheckOut, ScheduledAt: monday},
		{ID: "m2", Type: domain.MissionCleaning, ScheduledAt: monday.Add(time.Hour + 59*time.Minute + 59*time.Second)},
	}
	reversed := []domain.Mission{ms[1], ms[0]}
	name := func(id string) string { return id }

	forward := engine.FindConflicts(map[string][]domain.Mission{"w": ms}, name, time.UTC)
	backward := engine.FindConflicts(map[string][]domain.Mission{"w": reversed}, name, time.UTC)
	require.Len(t, forward, 1)
	assert.Equal(t, forward, backward)
	assert.Equal(t, domain.MissionCheckOut, forward[0].MissionAType)
	assert.Equal(t, domain.MissionCleaning, forward[0].MissionBType)
}
