package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stayops/internal/domain"
)

type missionRow struct {
	ID          string         `db:"id"`
	OrgID       string         `db:"org_id"`
	PropertyID  string         `db:"property_id"`
	Type        string         `db:"type"`
	Status      string         `db:"status"`
	Priority    string         `db:"priority"`
	ScheduledAt string         `db:"scheduled_at"`
	AssignedTo  sql.NullString `db:"assigned_to"`
	Notes       string         `db:"notes"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

const missionColumns = `id, org_id, property_id, type, status, priority, scheduled_at, assigned_to, notes, created_at, updated_at`

func (m missionRow) toDomain() (domain.Mission, error) {
	scheduled, err := parseTS(m.ScheduledAt)
	if err != nil {
		return domain.Mission{}, err
	}
	created, err := parseTS(m.CreatedAt)
	if err != nil {
		return domain.Mission{}, err
	}
	updated, err := parseTS(m.UpdatedAt)
	if err != nil {
		return domain.Mission{}, err
	}
	return domain.Mission{
		ID:          m.ID,
		OrgID:       m.OrgID,
		PropertyID:  m.PropertyID,
		Type:        domain.MissionType(m.Type),
		Status:      domain.MissionStatus(m.Status),
		Priority:    m.Priority,
		ScheduledAt: scheduled,
		AssignedTo:  optionalString(m.AssignedTo),
		Notes:       m.Notes,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func missionsFromRows(rows []missionRow) ([]domain.Mission, error) {
	out := make([]domain.Mission, 0, len(rows))
	for _, row := range rows {
		m, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("mission %s: %w", row.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// InsertMission writes m through ext (a transaction) or the pool when ext is nil.
func (r Repo) InsertMission(ctx context.Context, ext Queryer, m domain.Mission) error {
	if m.ID == "" || m.OrgID == "" {
		return errors.New("mission id and org_id required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid mission type %q", m.Type)
	}
	if m.Priority == "" {
		m.Priority = domain.PriorityNormal
	}
	row := missionRow{
		ID:          m.ID,
		OrgID:       m.OrgID,
		PropertyID:  m.PropertyID,
		Type:        string(m.Type),
		Status:      string(m.Status),
		Priority:    m.Priority,
		ScheduledAt: FormatTS(m.ScheduledAt),
		AssignedTo:  nullableString(m.AssignedTo),
		Notes:       m.Notes,
		CreatedAt:   FormatTS(m.CreatedAt),
		UpdatedAt:   FormatTS(m.UpdatedAt),
	}
	_, err := r.q(ext).ExecContext(ctx, `INSERT INTO missions(`+missionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		row.ID, row.OrgID, row.PropertyID, row.Type, row.Status, row.Priority, row.ScheduledAt,
		row.AssignedTo, row.Notes, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mission %s: %w", m.ID, err)
	}
	return nil
}

func (r Repo) GetMission(ctx context.Context, orgID, id string) (domain.Mission, error) {
	var row missionRow
	err := r.DB.GetContext(ctx, &row, `SELECT `+missionColumns+` FROM missions WHERE org_id=? AND id=?`, orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Mission{}, ErrNotFound
	}
	if err != nil {
		return domain.Mission{}, err
	}
	return row.toDomain()
}

// ListMissions returns the tenant's missions scheduled in [from, to), oldest first.
func (r Repo) ListMissions(ctx context.Context, orgID string, from, to time.Time) ([]domain.Mission, error) {
	var rows []missionRow
	err := r.DB.SelectContext(ctx, &rows, `SELECT `+missionColumns+` FROM missions
WHERE org_id=? AND scheduled_at >= ? AND scheduled_at < ? ORDER BY scheduled_at, id`,
		orgID, FormatTS(from), FormatTS(to))
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return missionsFromRows(rows)
}

// AssignedMissionsBetween returns assigned, non-cancelled missions scheduled in [from, to].
func (r Repo) AssignedMissionsBetween(ctx context.Context, orgID string, from, to time.Time) ([]domain.Mission, error) {
	var rows []missionRow
	err := r.DB.SelectContext(ctx, &rows, `SELECT `+missionColumns+` FROM missions
WHERE org_id=? AND assigned_to IS NOT NULL AND assigned_to <> '' AND status <> ?
  AND scheduled_at >= ? AND scheduled_at <= ?
ORDER BY scheduled_at, id`,
		orgID, string(domain.MissionCancelled), FormatTS(from), FormatTS(to))
	if err != nil {
		return nil, fmt.Errorf("assigned missions: %w", err)
	}
	return missionsFromRows(rows)
}
