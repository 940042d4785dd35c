// Package app wires a workspace: database, migrations, seeded catalog,
// change hub and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"pdcaflow/internal/config"
	"pdcaflow/internal/db"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/migrate"
	"pdcaflow/internal/registry"
	"pdcaflow/internal/repo"
	"pdcaflow/internal/store"
)

type Workspace struct {
	Dir      string
	DB       *sql.DB
	Config   *config.Config
	Repo     repo.Repo
	Store    *store.Store
	Engine   engine.Engine
	Registry *registry.Cache
	Logger   *log.Logger
}

type Options struct {
	Dir    string
	DBPath string
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

// Open migrates the database and seeds the catalog on first use.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOrDefault(opts.Dir); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Dir, Path: opts.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	if err := Seed(ctx, r, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	st := store.New(r, logger.WithPrefix("store"))
	eng := engine.New(conn, cfg, st)
	eng.Logger = logger.WithPrefix("engine")
	if opts.Now != nil {
		eng.Now = opts.Now
		eng.Events.Now = opts.Now
	}
	return &Workspace{
		Dir:      opts.Dir,
		DB:       conn,
		Config:   cfg,
		Repo:     r,
		Store:    st,
		Engine:   eng,
		Registry: registry.NewCache(st),
		Logger:   logger,
	}, nil
}

func (w *Workspace) Close() error {
	w.Registry.Close()
	return w.DB.Close()
}

// Seed loads statuses and departments from config into an empty catalog and
// makes sure the configured admin exists.
func Seed(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	empty, err := r.CatalogEmpty(ctx)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if empty {
		statuses, err := domain.NormalizeStatuses(cfg.Statuses)
		if err != nil {
			return fmt.Errorf("seed statuses: %w", err)
		}
		if err := r.ReplaceStatuses(ctx, tx, statuses); err != nil {
			return fmt.Errorf("seed statuses: %w", err)
		}
		depts, err := domain.NormalizeDepartments(cfg.Departments)
		if err != nil {
			return fmt.Errorf("seed departments: %w", err)
		}
		if err := r.ReplaceDepartments(ctx, tx, depts); err != nil {
			return fmt.Errorf("seed departments: %w", err)
		}
	}
	if cfg.Admin.ID != "" {
		admin := domain.UserProfile{
			ID:          cfg.Admin.ID,
			Email:       cfg.Admin.Email,
			DisplayName: cfg.Admin.DisplayName,
			Role:        domain.RoleAdmin,
		}
		if err := r.EnsureUser(ctx, tx, admin, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
	}
	return tx.Commit()
}
