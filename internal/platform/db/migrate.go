package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationsDir is the embedded directory holding the ledger schema.
const MigrationsDir = "migrations"

// Migrations exposes the embedded SQL files.
func Migrations() embed.FS {
	return migrations
}

// Migrate runs a goose command (up, down, status, redo, version, ...) against the embedded schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool, command string, args ...string) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	return run(ctx, sqlDB, command, args...)
}

func run(ctx context.Context, sqlDB *sql.DB, command string, args ...string) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("platform/db: set dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, sqlDB, MigrationsDir, args...); err != nil {
		return fmt.Errorf("platform/db: goose %s: %w", command, err)
	}
	return nil
}
