package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"stayops/internal/domain"
)

type memberRow struct {
	OrgID       string         `db:"org_id"`
	UserID      string         `db:"user_id"`
	DisplayName string         `db:"display_name"`
	Email       sql.NullString `db:"email"`
	Role        string         `db:"role"`
}

func (m memberRow) toDomain() domain.Member {
	return domain.Member{
		OrgID:       m.OrgID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Email:       m.Email.String,
		Role:        domain.Role(m.Role),
	}
}

const memberColumns = `org_id, user_id, display_name, email, role`

// UpsertMember adds a member to an organisation or updates name, email and role.
func (r Repo) UpsertMember(ctx context.Context, m domain.Member) error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(org_id, user_id, display_name, email, role) VALUES (?,?,?,?,?)
ON CONFLICT(org_id, user_id) DO UPDATE SET display_name=excluded.display_name, email=excluded.email, role=excluded.role`,
		m.OrgID, m.UserID, m.DisplayName, nullable(m.Email), string(m.Role))
	if err != nil {
		return fmt.Errorf("upsert member %s/%s: %w", m.OrgID, m.UserID, err)
	}
	return nil
}

// MembersByRole returns the tenant's members holding any of roles.
func (r Repo) MembersByRole(ctx context.Context, orgID string, roles ...domain.Role) ([]domain.Member, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+memberColumns+` FROM members WHERE org_id=? AND role IN (?) ORDER BY user_id`, orgID, roles)
	if err != nil {
		return nil, err
	}
	var rows []memberRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("members by role: %w", err)
	}
	out := make([]domain.Member, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// MembersByIDs resolves members in one batch lookup, keyed by user id.
func (r Repo) MembersByIDs(ctx context.Context, orgID string, userIDs []string) (map[string]domain.Member, error) {
	res := make(map[string]domain.Member, len(userIDs))
	if len(userIDs) == 0 {
		return res, nil
	}
	query, args, err := sqlx.In(`SELECT `+memberColumns+` FROM members WHERE org_id=? AND user_id IN (?)`, orgID, userIDs)
	if err != nil {
		return nil, err
	}
	var rows []memberRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("members by id: %w", err)
	}
	for _, row := range rows {
		res[row.UserID] = row.toDomain()
	}
	return res, nil
}
