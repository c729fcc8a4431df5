package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stayops/internal/domain"
)

type templateRow struct {
	ID              string         `db:"id"`
	OrgID           string         `db:"org_id"`
	PropertyID      string         `db:"property_id"`
	MissionType     string         `db:"mission_type"`
	Priority        string         `db:"priority"`
	Frequency       string         `db:"frequency"`
	DayOfWeek       sql.NullInt64  `db:"day_of_week"`
	DayOfMonth      sql.NullInt64  `db:"day_of_month"`
	ScheduledTime   string         `db:"scheduled_time"`
	AssignedTo      sql.NullString `db:"assigned_to"`
	Notes           string         `db:"notes"`
	Active          int            `db:"active"`
	LastGeneratedAt sql.NullString `db:"last_generated_at"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

const templateColumns = `id, org_id, property_id, mission_type, priority, frequency, day_of_week, day_of_month,
scheduled_time, assigned_to, notes, active, last_generated_at, created_at, updated_at`

func optionalInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func (t templateRow) toDomain() (domain.RecurrenceTemplate, error) {
	last, err := parseNullTS(t.LastGeneratedAt)
	if err != nil {
		return domain.RecurrenceTemplate{}, err
	}
	created, err := parseTS(t.CreatedAt)
	if err != nil {
		return domain.RecurrenceTemplate{}, err
	}
	updated, err := parseTS(t.UpdatedAt)
	if err != nil {
		return domain.RecurrenceTemplate{}, err
	}
	return domain.RecurrenceTemplate{
		ID:              t.ID,
		OrgID:           t.OrgID,
		PropertyID:      t.PropertyID,
		MissionType:     domain.MissionType(t.MissionType),
		Priority:        t.Priority,
		Frequency:       domain.Frequency(t.Frequency),
		DayOfWeek:       optionalInt(t.DayOfWeek),
		DayOfMonth:      optionalInt(t.DayOfMonth),
		ScheduledTime:   t.ScheduledTime,
		AssignedTo:      optionalString(t.AssignedTo),
		Notes:           t.Notes,
		Active:          t.Active != 0,
		LastGeneratedAt: last,
		CreatedAt:       created,
		UpdatedAt:       updated,
	}, nil
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.RecurrenceTemplate) error {
	if t.ID == "" || t.OrgID == "" {
		return errors.New("template id and org_id required")
	}
	if !t.Frequency.Valid() {
		return fmt.Errorf("invalid frequency %q", t.Frequency)
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityNormal
	}
	var last sql.NullString
	if t.LastGeneratedAt != nil {
		last = sql.NullString{String: FormatTS(*t.LastGeneratedAt), Valid: true}
	}
	active := 0
	if t.Active {
		active = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO recurrence_templates(`+templateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.PropertyID, string(t.MissionType), t.Priority, string(t.Frequency),
		nullableInt(t.DayOfWeek), nullableInt(t.DayOfMonth), t.ScheduledTime, nullableString(t.AssignedTo),
		t.Notes, active, last, FormatTS(t.CreatedAt), FormatTS(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert template %s: %w", t.ID, err)
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, orgID, id string) (domain.RecurrenceTemplate, error) {
	var row templateRow
	err := r.DB.GetContext(ctx, &row, `SELECT `+templateColumns+` FROM recurrence_templates WHERE org_id=? AND id=?`, orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecurrenceTemplate{}, ErrNotFound
	}
	if err != nil {
		return domain.RecurrenceTemplate{}, err
	}
	return row.toDomain()
}

// ActiveTemplates returns every tenant's active templates. Used by the global
// recurrence sweep only.
func (r Repo) ActiveTemplates(ctx context.Context) ([]domain.RecurrenceTemplate, error) {
	var rows []templateRow
	if err := r.DB.SelectContext(ctx, &rows, `SELECT `+templateColumns+` FROM recurrence_templates WHERE active=1 ORDER BY org_id, id`); err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	out := make([]domain.RecurrenceTemplate, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", row.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// MarkTemplateGenerated stamps last_generated_at, scoped by tenant and key.
func (r Repo) MarkTemplateGenerated(ctx context.Context, ext Queryer, orgID, id string, at time.Time) error {
	res, err := r.q(ext).ExecContext(ctx, `UPDATE recurrence_templates SET last_generated_at=?, updated_at=? WHERE org_id=? AND id=?`,
		FormatTS(at), FormatTS(at), orgID, id)
	if err != nil {
		return fmt.Errorf("mark template %s generated: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
