package db

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migrate brings the ledger schema up to date. Safe to call on every
// boot; goose skips migrations already applied.
func Migrate(pool *sql.DB) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(pool, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
