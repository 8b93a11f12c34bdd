// Package migrations holds the Postgres schema of the quiz backend.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

//go:embed *.sql
var files embed.FS

var Migrations = migrate.NewMigrations()

func init() {
	if err := Migrations.Discover(files); err != nil {
		panic(err)
	}
}

// Migrator applies the embedded migrations to one database.
type Migrator struct {
	db *bun.DB
	m  *migrate.Migrator
}

func NewMigrator(dsn string) *Migrator {
	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), pgdialect.New())

	return &Migrator{
		db: db,
		m:  migrate.NewMigrator(db, Migrations),
	}
}

func (m *Migrator) Close() error {
	return m.db.Close()
}

// Up applies every pending migration as one group.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func() error {
		group, err := m.m.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		if group.IsZero() {
			slog.InfoContext(ctx, "migrations: database is up to date")
			return nil
		}

		slog.InfoContext(ctx, "migrations: applied", "group", group.ID, "migrations", group.Migrations.String())
		return nil
	})
}

// Down rolls back the last applied group.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func() error {
		group, err := m.m.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}

		if group.IsZero() {
			slog.InfoContext(ctx, "migrations: nothing to roll back")
			return nil
		}

		slog.InfoContext(ctx, "migrations: rolled back", "group", group.ID, "migrations", group.Migrations.String())
		return nil
	})
}

func (m *Migrator) locked(ctx context.Context, fn func() error) (err error) {
	if err := m.m.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if err := m.m.Lock(ctx); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer func() {
		if uerr := m.m.Unlock(ctx); uerr != nil && err == nil {
			err = fmt.Errorf("unlock: %w", uerr)
		}
	}()

	return fn()
}
