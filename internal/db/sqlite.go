// Package db opens the agent's local ledger file and applies its schema.
// The ledger is a single SQLite database holding operation states, the
// result outbox, and the service intent journal; it is the durable memory
// the dispatcher recovers from after a container restart.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"
)

// Ledger DSN parameters.
const (
	busyTimeoutMillis = "5000"
	synchronousLevel  = "NORMAL"
	journalMode       = "WAL"
)

// Open opens the ledger at path. The pool is capped at one connection:
// SQLite allows a single writer, and every caller here (dispatcher,
// maintenance jobs, repositories) writes. _txlock=immediate makes
// transactions take the write lock up front instead of failing on
// upgrade mid-transaction.
func Open(path string) (*sql.DB, error) {
	pool, err := sql.Open("sqlite3", ledgerDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	pool.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	return pool, nil
}

func ledgerDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", busyTimeoutMillis)
	params.Set("_synchronous", synchronousLevel)
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	return path + "?" + params.Encode()
}
