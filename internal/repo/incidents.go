package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stayops/internal/domain"
)

type incidentRow struct {
	ID          string          `db:"id"`
	OrgID       string          `db:"org_id"`
	PropertyID  string          `db:"property_id"`
	Severity    string          `db:"severity"`
	Status      string          `db:"status"`
	Description string          `db:"description"`
	OpenedAt    string          `db:"opened_at"`
	ResolvedAt  sql.NullString  `db:"resolved_at"`
	Cost        sql.NullFloat64 `db:"cost"`
	CreatedAt   string          `db:"created_at"`
	UpdatedAt   string          `db:"updated_at"`
}

const incidentColumns = `id, org_id, property_id, severity, status, description, opened_at, resolved_at, cost, created_at, updated_at`

func (i incidentRow) toDomain() (domain.Incident, error) {
	opened, err := parseTS(i.OpenedAt)
	if err != nil {
		return domain.Incident{}, err
	}
	resolved, err := parseNullTS(i.ResolvedAt)
	if err != nil {
		return domain.Incident{}, err
	}
	created, err := parseTS(i.CreatedAt)
	if err != nil {
		return domain.Incident{}, err
	}
	updated, err := parseTS(i.UpdatedAt)
	if err != nil {
		return domain.Incident{}, err
	}
	var cost *float64
	if i.Cost.Valid {
		c := i.Cost.Float64
		cost = &c
	}
	return domain.Incident{
		ID:          i.ID,
		OrgID:       i.OrgID,
		PropertyID:  i.PropertyID,
		Severity:    domain.Severity(i.Severity),
		Status:      domain.IncidentStatus(i.Status),
		Description: i.Description,
		OpenedAt:    opened,
		ResolvedAt:  resolved,
		Cost:        cost,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func (r Repo) InsertIncident(ctx context.Context, inc domain.Incident) error {
	if inc.ID == "" || inc.OrgID == "" {
		return errors.New("incident id and org_id required")
	}
	var resolved sql.NullString
	if inc.ResolvedAt != nil {
		resolved = sql.NullString{String: FormatTS(*inc.ResolvedAt), Valid: true}
	}
	var cost sql.NullFloat64
	if inc.Cost != nil {
		cost = sql.NullFloat64{Float64: *inc.Cost, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO incidents(`+incidentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.OrgID, inc.PropertyID, string(inc.Severity), string(inc.Status), inc.Description,
		FormatTS(inc.OpenedAt), resolved, cost, FormatTS(inc.CreatedAt), FormatTS(inc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", inc.ID, err)
	}
	return nil
}

func (r Repo) GetIncident(ctx context.Context, orgID, id string) (domain.Incident, error) {
	var row incidentRow
	err := r.DB.GetContext(ctx, &row, `SELECT `+incidentColumns+` FROM incidents WHERE org_id=? AND id=?`, orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Incident{}, ErrNotFound
	}
	if err != nil {
		return domain.Incident{}, err
	}
	return row.toDomain()
}

// UnresolvedIncidentsOpenedBefore returns every tenant's incidents in one of
// statuses opened strictly before cutoff, optionally restricted to severity.
// Used by the global escalation and reminder sweeps.
func (r Repo) UnresolvedIncidentsOpenedBefore(ctx context.Context, severity domain.Severity, statuses []domain.IncidentStatus, cutoff time.Time) ([]domain.Incident, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status IN (?) AND opened_at < ?`
	args := []any{statuses, FormatTS(cutoff)}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(severity))
	}
	query += ` ORDER BY opened_at, id`
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []incidentRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	out := make([]domain.Incident, 0, len(rows))
	for _, row := range rows {
		inc, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("incident %s: %w", row.ID, err)
		}
		out = append(out, inc)
	}
	return out, nil
}

// EscalateIncident moves severity from -> to only while the row still holds
// from and is unresolved. It reports whether the row changed.
func (r Repo) EscalateIncident(ctx context.Context, orgID, id string, from, to domain.Severity, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE incidents SET severity=?, updated_at=?
WHERE org_id=? AND id=? AND severity=? AND status IN (?,?)`,
		string(to), FormatTS(now), orgID, id, string(from), string(domain.IncidentOpen), string(domain.IncidentInProgress))
	if err != nil {
		return false, fmt.Errorf("escalate incident %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetIncidentStatus updates status, stamping resolved_at on terminal states.
func (r Repo) SetIncidentStatus(ctx context.Context, orgID, id string, status domain.IncidentStatus, now time.Time) error {
	var resolved any
	if !status.Unresolved() {
		resolved = FormatTS(now)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE incidents SET status=?, resolved_at=?, updated_at=? WHERE org_id=? AND id=?`,
		string(status), resolved, FormatTS(now), orgID, id)
	if err != nil {
		return fmt.Errorf("set incident %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
