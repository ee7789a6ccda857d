package repository

import (
	"context"
	"database/sql"

	"snowbridge/internal/domain"
)

// IntentRepo journals in-flight lifecycle steps. A resume intent recorded
// before a suspend means an interrupted restart can be finished on the next
// lifecycle command.
type IntentRepo struct {
	db *sql.DB
}

// NewIntentRepo creates a new IntentRepo.
func NewIntentRepo(db *sql.DB) *IntentRepo {
	return &IntentRepo{db: db}
}

// Record upserts an intent by name.
func (r *IntentRepo) Record(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO service_intents (name) VALUES (?)
		ON CONFLICT (name) DO UPDATE SET requested_at = CURRENT_TIMESTAMP
	`, name)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// Clear removes an intent. Clearing an absent intent is not an error.
func (r *IntentRepo) Clear(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM service_intents WHERE name = ?`, name)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// Pending returns every journaled intent, oldest first.
func (r *IntentRepo) Pending(ctx context.Context) ([]domain.ServiceIntent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, requested_at FROM service_intents ORDER BY requested_at
	`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var intents []domain.ServiceIntent
	for rows.Next() {
		var intent domain.ServiceIntent
		if err := rows.Scan(&intent.Name, &intent.RequestedAt); err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}
