package repository

import (
	"context"
	"database/sql"
	"time"

	"snowbridge/internal/domain"
)

// OutboxRepo stores result pushes that must survive process restarts. A push
// is enqueued before delivery is attempted and marked delivered only after
// the orchestrator accepted it.
type OutboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo creates a new OutboxRepo.
func NewOutboxRepo(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Enqueue inserts a pending push and returns its id.
func (r *OutboxRepo) Enqueue(ctx context.Context, operationID string, payload []byte) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (operation_id, payload)
		VALUES (?, ?)
	`, operationID, payload)
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.LastInsertId()
}

// Due returns undelivered entries whose next attempt time has passed, oldest
// first.
func (r *OutboxRepo) Due(ctx context.Context, asOf time.Time, limit int) ([]domain.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, operation_id, payload, attempts, next_attempt_at, created_at, delivered_at, last_error
		FROM outbox
		WHERE delivered_at IS NULL AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, asOf.UTC(), limit)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.OutboxEntry
	for rows.Next() {
		var (
			entry       domain.OutboxEntry
			deliveredAt sql.NullTime
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.OperationID,
			&entry.Payload,
			&entry.Attempts,
			&entry.NextAttemptAt,
			&entry.CreatedAt,
			&deliveredAt,
			&entry.LastError,
		); err != nil {
			return nil, err
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			entry.DeliveredAt = &t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkDelivered records a successful push.
func (r *OutboxRepo) MarkDelivered(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET delivered_at = CURRENT_TIMESTAMP WHERE id = ? AND delivered_at IS NULL
	`, id)
	if err != nil {
		return mapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound("outbox entry %d not found or already delivered", id)
	}
	return nil
}

// Reschedule bumps the attempt count and sets the next attempt time after a
// failed push.
func (r *OutboxRepo) Reschedule(ctx context.Context, id int64, nextAttempt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, nextAttempt.UTC(), lastError, id)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// PruneDelivered removes delivered entries older than the cutoff.
func (r *OutboxRepo) PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE delivered_at IS NOT NULL AND delivered_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}

// ExpireUndelivered removes undelivered entries created before the cutoff and
// returns them so the caller can log each dropped push.
func (r *OutboxRepo) ExpireUndelivered(ctx context.Context, cutoff time.Time) ([]domain.OutboxEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, operation_id, attempts, last_error
		FROM outbox
		WHERE delivered_at IS NULL AND created_at < ?
		ORDER BY id
	`, cutoff.UTC())
	if err != nil {
		return nil, mapDBError(err)
	}
	var expired []domain.OutboxEntry
	for rows.Next() {
		var entry domain.OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.OperationID, &entry.Attempts, &entry.LastError); err != nil {
			_ = rows.Close()
			return nil, err
		}
		expired = append(expired, entry)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, entry := range expired {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, entry.ID); err != nil {
			return expired, mapDBError(err)
		}
	}
	return expired, nil
}

// PendingCount returns the number of undelivered entries.
func (r *OutboxRepo) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE delivered_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, mapDBError(err)
	}
	return n, nil
}
