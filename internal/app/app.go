// Package app wires configuration, storage, notification channels and the
// engine into a runnable process, and seeds tenants for local operation.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"stayops/internal/config"
	"stayops/internal/db"
	"stayops/internal/domain"
	"stayops/internal/engine"
	"stayops/internal/metrics"
	"stayops/internal/migrate"
	"stayops/internal/notify"
	"stayops/internal/repo"
)

// Runtime holds the opened database and the engine built on top of it.
type Runtime struct {
	Config  *config.Config
	DB      *sqlx.DB
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Engine  engine.Engine
}

// Open opens and migrates the database named by cfg and builds the engine.
// workspace is used when cfg.DatabasePath is empty.
func Open(ctx context.Context, cfg *config.Config, workspace string, log *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Path: cfg.DatabasePath, Workspace: workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Apply(ctx, conn.DB)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, mig := range applied {
		log.Info("applied migration", zap.Stringer("migration", mig))
	}
	m := metrics.New(nil)
	channel := notify.FromConfig(cfg.Notify)
	if channel != nil {
		log.Info("external notification channel enabled", zap.String("channel", channel.Name()))
	}
	dispatcher := notify.Dispatcher{
		Repo:        repo.Repo{DB: conn},
		Channel:     channel,
		Concurrency: cfg.Notify.Concurrency,
		Log:         log,
		Metrics:     m,
	}
	return &Runtime{
		Config:  cfg,
		DB:      conn,
		Log:     log,
		Metrics: m,
		Engine:  engine.New(conn, cfg, dispatcher, log, m),
	}, nil
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}

// CreateOrganisation inserts a tenant. It is a no-op when the id exists.
func CreateOrganisation(ctx context.Context, r repo.Repo, id, name string) (domain.Organisation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Organisation{}, errors.New("organisation id required")
	}
	if err := r.InsertOrganisation(ctx, domain.Organisation{ID: id, Name: name, CreatedAt: time.Now().UTC()}); err != nil {
		return domain.Organisation{}, err
	}
	return r.GetOrganisation(ctx, id)
}

// AddMember adds or updates a member of an existing organisation.
func AddMember(ctx context.Context, r repo.Repo, m domain.Member) error {
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("user id required")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q (want admin, manager or worker)", m.Role)
	}
	if _, err := r.GetOrganisation(ctx, m.OrgID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("organisation %s not found", m.OrgID)
		}
		return err
	}
	return r.UpsertMember(ctx, m)
}

// AddProperty registers a property under an existing organisation.
func AddProperty(ctx context.Context, r repo.Repo, p domain.Property) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("property id required")
	}
	if _, err := r.GetOrganisation(ctx, p.OrgID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("organisation %s not found", p.OrgID)
		}
		return err
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return r.InsertProperty(ctx, p)
}
