package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

// MigrationsDir is the directory inside a Migration's Source that holds the
// numbered <version>_<title>.up.sql and .down.sql files.
const MigrationsDir = "migrations"

var migrationName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Migration is one package's schema history. Each one is versioned in its own
// <Name>_schema_migrations table, so several packages can share a database.
type Migration struct {
	Name   string
	Source fs.FS
}

func (m Migration) table() string {
	return m.Name + "_schema_migrations"
}

// Migrate brings every migration up to its latest version, in order.
func Migrate(ctx context.Context, pool *Pool, migrations ...Migration) error {
	for _, m := range migrations {
		if err := migrateUp(ctx, pool, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func migrateUp(ctx context.Context, pool *Pool, m Migration) error {
	if !migrationName.MatchString(m.Name) {
		return fmt.Errorf("invalid migration name %q", m.Name)
	}
	src, err := iofs.New(m.Source, MigrationsDir)
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	if pool == nil || pool.Pool == nil {
		_ = src.Close()
		return errors.New("db not configured")
	}

	// The driver closes this handle on Close; the pool stays open.
	sqlDB := stdlib.OpenDBFromPool(pool.Pool)
	drv, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{MigrationsTable: m.table()})
	if err != nil {
		_ = src.Close()
		_ = sqlDB.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = mg.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mg.GracefulStop <- true
		case <-done:
		}
	}()

	err = mg.Up()
	var dirty migrate.ErrDirty
	switch {
	case err == nil, errors.Is(err, migrate.ErrNoChange):
		return ctx.Err()
	case errors.As(err, &dirty):
		return fmt.Errorf("dirty database version %d, fix it and force the version: %w", dirty.Version, err)
	default:
		return err
	}
}
