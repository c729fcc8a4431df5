// Package testutil opens migrated databases and seeds tenants for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"stayops/internal/db"
	"stayops/internal/domain"
	"stayops/internal/migrate"
	"stayops/internal/repo"
)

// NewTestDB opens a migrated SQLite file in t.TempDir and closes it on cleanup.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Errorf("closing test db: %v", err)
		}
	})
	if err := migrate.Migrate(context.Background(), conn.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedOrg creates an organisation with one admin, one manager and one worker,
// named "<org>-admin", "<org>-manager" and "<org>-worker".
func SeedOrg(t *testing.T, r repo.Repo, orgID string) {
	t.Helper()
	ctx := context.Background()
	if err := r.InsertOrganisation(ctx, domain.Organisation{ID: orgID, Name: orgID, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	for _, m := range []domain.Member{
		{OrgID: orgID, UserID: orgID + "-admin", DisplayName: "Ada Admin", Email: orgID + "-admin@example.com", Role: domain.RoleAdmin},
		{OrgID: orgID, UserID: orgID + "-manager", DisplayName: "Max Manager", Role: domain.RoleManager},
		{OrgID: orgID, UserID: orgID + "-worker", DisplayName: "Wes Worker", Role: domain.RoleWorker},
	} {
		if err := r.UpsertMember(ctx, m); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	if err := r.InsertProperty(ctx, domain.Property{ID: orgID + "-villa", OrgID: orgID, Name: "Villa Mimosa"}); err != nil {
		t.Fatalf("seed property: %v", err)
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
