package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stayops/internal/domain"
)

// Writer appends and queries activity_log rows.
type Writer struct {
	DB  *sqlx.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one entry stamped with the writer's clock. An empty actorID
// records a system action.
func (w Writer) Append(ctx context.Context, orgID, entityType, entityID, action, actorID string, payload Payload) (domain.ActivityEntry, error) {
	return w.AppendAt(ctx, w.now(), orgID, entityType, entityID, action, actorID, payload)
}

// AppendAt writes one entry stamped at.
func (w Writer) AppendAt(ctx context.Context, at time.Time, orgID, entityType, entityID, action, actorID string, payload Payload) (domain.ActivityEntry, error) {
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.ActivityEntry{}, fmt.Errorf("marshal activity metadata: %w", err)
	}
	ts := at.UTC().Truncate(time.Second)
	res, err := w.DB.ExecContext(ctx, `INSERT INTO activity_log(org_id, entity_type, entity_id, action, actor_id, metadata_json, created_at) VALUES (?,?,?,?,?,?,?)`,
		orgID, entityType, entityID, action, nullable(actorID), string(data), ts.Format(time.RFC3339))
	if err != nil {
		return domain.ActivityEntry{}, fmt.Errorf("append activity %s: %w", action, err)
	}
	id, _ := res.LastInsertId()
	entry := domain.ActivityEntry{
		ID:         id,
		OrgID:      orgID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Metadata:   payload,
		CreatedAt:  ts,
	}
	if actorID != "" {
		entry.ActorID = &actorID
	}
	return entry, nil
}

type entryRow struct {
	ID           int64          `db:"id"`
	OrgID        string         `db:"org_id"`
	EntityType   string         `db:"entity_type"`
	EntityID     string         `db:"entity_id"`
	Action       string         `db:"action"`
	ActorID      sql.NullString `db:"actor_id"`
	MetadataJSON string         `db:"metadata_json"`
	CreatedAt    string         `db:"created_at"`
}

func (r entryRow) toDomain() (domain.ActivityEntry, error) {
	created, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		return domain.ActivityEntry{}, fmt.Errorf("parse activity timestamp: %w", err)
	}
	var meta map[string]any
	if r.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &meta); err != nil {
			return domain.ActivityEntry{}, fmt.Errorf("decode activity metadata: %w", err)
		}
	}
	e := domain.ActivityEntry{
		ID:         r.ID,
		OrgID:      r.OrgID,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     r.Action,
		Metadata:   meta,
		CreatedAt:  created,
	}
	if r.ActorID.Valid {
		a := r.ActorID.String
		e.ActorID = &a
	}
	return e, nil
}

// LatestSince returns the newest entry for the entity and action created at or
// after since. ok is false when there is none.
func (w Writer) LatestSince(ctx context.Context, orgID, entityType, entityID, action string, since time.Time) (entry domain.ActivityEntry, ok bool, err error) {
	var row entryRow
	err = w.DB.GetContext(ctx, &row, `SELECT id, org_id, entity_type, entity_id, action, actor_id, metadata_json, created_at
FROM activity_log
WHERE org_id=? AND entity_type=? AND entity_id=? AND action=? AND created_at >= ?
ORDER BY created_at DESC, id DESC LIMIT 1`,
		orgID, entityType, entityID, action, since.UTC().Format(time.RFC3339))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ActivityEntry{}, false, nil
	}
	if err != nil {
		return domain.ActivityEntry{}, false, fmt.Errorf("latest activity %s: %w", action, err)
	}
	entry, err = row.toDomain()
	if err != nil {
		return domain.ActivityEntry{}, false, err
	}
	return entry, true, nil
}

// List returns an entity's entries, oldest first.
func (w Writer) List(ctx context.Context, orgID, entityType, entityID string) ([]domain.ActivityEntry, error) {
	var rows []entryRow
	err := w.DB.SelectContext(ctx, &rows, `SELECT id, org_id, entity_type, entity_id, action, actor_id, metadata_json, created_at
FROM activity_log WHERE org_id=? AND entity_type=? AND entity_id=? ORDER BY created_at, id`, orgID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	out := make([]domain.ActivityEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
