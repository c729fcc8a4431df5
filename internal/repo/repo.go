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

// Repo is the tenant-scoped datastore accessor. Every method takes an org id
// except the global sweep queries, which return rows carrying their own org id.
type Repo struct {
	DB *sqlx.DB
}

var ErrNotFound = errors.New("not found")

// Queryer is satisfied by *sqlx.DB and *sqlx.Tx.
type Queryer = sqlx.ExtContext

func (r Repo) q(ext Queryer) Queryer {
	if ext != nil {
		return ext
	}
	return r.DB
}

// FormatTS renders t the way every timestamp column stores it.
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func optionalString(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

// WithTx runs fn in a transaction, committing when it returns nil.
func (r Repo) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) InsertOrganisation(ctx context.Context, org domain.Organisation) error {
	if org.ID == "" {
		return errors.New("organisation id required")
	}
	if org.Name == "" {
		org.Name = org.ID
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO organisations(id, name, created_at) VALUES (?,?,?)`,
		org.ID, org.Name, FormatTS(org.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert organisation %s: %w", org.ID, err)
	}
	return nil
}

func (r Repo) GetOrganisation(ctx context.Context, id string) (domain.Organisation, error) {
	var row struct {
		ID        string `db:"id"`
		Name      string `db:"name"`
		CreatedAt string `db:"created_at"`
	}
	err := r.DB.GetContext(ctx, &row, `SELECT id, name, created_at FROM organisations WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Organisation{}, ErrNotFound
	}
	if err != nil {
		return domain.Organisation{}, err
	}
	created, err := parseTS(row.CreatedAt)
	if err != nil {
		return domain.Organisation{}, err
	}
	return domain.Organisation{ID: row.ID, Name: row.Name, CreatedAt: created}, nil
}

func (r Repo) InsertProperty(ctx context.Context, p domain.Property) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO properties(id, org_id, name) VALUES (?,?,?)`, p.ID, p.OrgID, p.Name)
	if err != nil {
		return fmt.Errorf("insert property %s: %w", p.ID, err)
	}
	return nil
}

// PropertyName returns the property's name, or ErrNotFound.
func (r Repo) PropertyName(ctx context.Context, orgID, id string) (string, error) {
	var name string
	err := r.DB.GetContext(ctx, &name, `SELECT name FROM properties WHERE org_id=? AND id=?`, orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}
