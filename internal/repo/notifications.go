package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stayops/internal/domain"
)

type notificationRow struct {
	ID         string         `db:"id"`
	OrgID      string         `db:"org_id"`
	UserID     string         `db:"user_id"`
	Type       string         `db:"type"`
	Title      string         `db:"title"`
	Message    string         `db:"message"`
	EntityType sql.NullString `db:"entity_type"`
	EntityID   sql.NullString `db:"entity_id"`
	Read       int            `db:"read"`
	CreatedAt  string         `db:"created_at"`
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" || n.OrgID == "" || n.UserID == "" {
		return errors.New("notification id, org_id and user_id required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id, org_id, user_id, type, title, message, entity_type, entity_id, read, created_at)
VALUES (?,?,?,?,?,?,?,?,0,?)`,
		n.ID, n.OrgID, n.UserID, n.Type, n.Title, n.Message, nullable(n.EntityType), nullable(n.EntityID), FormatTS(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification for %s: %w", n.UserID, err)
	}
	return nil
}

// ListNotifications returns a recipient's notifications, newest first.
func (r Repo) ListNotifications(ctx context.Context, orgID, userID string) ([]domain.Notification, error) {
	var rows []notificationRow
	err := r.DB.SelectContext(ctx, &rows, `SELECT id, org_id, user_id, type, title, message, entity_type, entity_id, read, created_at
FROM notifications WHERE org_id=? AND user_id=? ORDER BY created_at DESC, id`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		created, err := parseTS(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Notification{
			ID:         row.ID,
			OrgID:      row.OrgID,
			UserID:     row.UserID,
			Type:       row.Type,
			Title:      row.Title,
			Message:    row.Message,
			EntityType: row.EntityType.String,
			EntityID:   row.EntityID.String,
			Read:       row.Read != 0,
			CreatedAt:  created,
		})
	}
	return out, nil
}

// CountNotifications counts a tenant's notifications referencing an entity.
func (r Repo) CountNotifications(ctx context.Context, orgID, entityType, entityID string) (int, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM notifications WHERE org_id=? AND entity_type=? AND entity_id=?`, orgID, entityType, entityID)
	return n, err
}
