package repository

import (
	"context"
	"database/sql"
	"time"

	"snowbridge/internal/domain"
)

// OperationRepo stores dispatched operation lifecycle state in SQLite. All
// state transitions are compare-and-swap updates guarded on the current
// state, so the completed and failed callbacks can never both settle the
// same operation.
type OperationRepo struct {
	db *sql.DB
}

// NewOperationRepo creates a new OperationRepo.
func NewOperationRepo(db *sql.DB) *OperationRepo {
	return &OperationRepo{db: db}
}

const operationColumns = `id, query_hash, query_id, state, timeout_seconds,
	       size_limit_bytes, compress_response,
	       error_code, error_message, error_state,
	       created_at, updated_at, deadline_at, completed_at`

// Create inserts a new pending operation.
func (r *OperationRepo) Create(ctx context.Context, op *domain.Operation) error {
	if op == nil {
		return domain.ErrValidation("operation is required")
	}
	if err := domain.ValidateOperationID(op.ID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO operations (id, query_hash, state, timeout_seconds, size_limit_bytes, compress_response, deadline_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.QueryHash, string(domain.OperationStatePending), op.TimeoutSeconds,
		op.SizeLimitBytes, op.CompressResponse, op.DeadlineAt.UTC())
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// GetByID returns an operation by id.
func (r *OperationRepo) GetByID(ctx context.Context, id string) (*domain.Operation, error) {
	return r.getOne(ctx, `
		SELECT `+operationColumns+`
		FROM operations WHERE id = ?
	`, id)
}

// MarkSubmitted records the warehouse statement handle once the async block
// is on its way. Only a pending operation can move to submitted.
func (r *OperationRepo) MarkSubmitted(ctx context.Context, id, queryID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE operations
		SET state = ?, query_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state = ?
	`, string(domain.OperationStateSubmitted), queryID, id, string(domain.OperationStatePending))
	if err != nil {
		return mapDBError(err)
	}
	return r.checkTransitioned(ctx, res, id)
}

// Complete settles an operation as succeeded. Returns false when the
// operation is already terminal, in which case the caller must drop the
// callback.
func (r *OperationRepo) Complete(ctx context.Context, id, queryID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE operations
		SET state = ?, query_id = ?, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state IN (?, ?)
	`, string(domain.OperationStateCompleted), queryID, id,
		string(domain.OperationStatePending), string(domain.OperationStateSubmitted))
	if err != nil {
		return false, mapDBError(err)
	}
	return r.won(ctx, res, id)
}

// Fail settles an operation as failed. Returns false when the operation is
// already terminal.
func (r *OperationRepo) Fail(ctx context.Context, id string, code int, message, sqlState string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE operations
		SET state = ?, error_code = ?, error_message = ?, error_state = ?,
		    completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state IN (?, ?)
	`, string(domain.OperationStateFailed), code, message, sqlState, id,
		string(domain.OperationStatePending), string(domain.OperationStateSubmitted))
	if err != nil {
		return false, mapDBError(err)
	}
	return r.won(ctx, res, id)
}

// SweepOverdue times out every non-terminal operation whose deadline has
// passed and returns the operations it transitioned. Operations settled by a
// callback between the select and the update are skipped.
func (r *OperationRepo) SweepOverdue(ctx context.Context, asOf time.Time) ([]domain.Operation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM operations
		WHERE state IN (?, ?) AND deadline_at <= ?
		ORDER BY deadline_at
	`, string(domain.OperationStatePending), string(domain.OperationStateSubmitted), asOf.UTC())
	if err != nil {
		return nil, mapDBError(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var swept []domain.Operation
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, `
			UPDATE operations
			SET state = ?, error_message = 'operation timed out',
			    completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND state IN (?, ?)
		`, string(domain.OperationStateTimedOut), id,
			string(domain.OperationStatePending), string(domain.OperationStateSubmitted))
		if err != nil {
			return swept, mapDBError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return swept, err
		}
		if affected == 0 {
			continue
		}
		op, err := r.GetByID(ctx, id)
		if err != nil {
			return swept, err
		}
		swept = append(swept, *op)
	}
	return swept, nil
}

// DeleteOlderThan prunes terminal operations completed before the cutoff.
func (r *OperationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM operations
		WHERE completed_at IS NOT NULL AND completed_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}

// CountByState returns the number of operations per state.
func (r *OperationRepo) CountByState(ctx context.Context) (map[domain.OperationState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM operations GROUP BY state`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[domain.OperationState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.OperationState(state)] = n
	}
	return counts, rows.Err()
}

func (r *OperationRepo) checkTransitioned(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict("operation %q is not pending", id)
}

// won distinguishes a lost compare-and-swap from a missing row.
func (r *OperationRepo) won(ctx context.Context, res sql.Result, id string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *OperationRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.Operation, error) {
	var (
		op                   domain.Operation
		state                string
		completedAt          sql.NullTime
		createdAt, updatedAt time.Time
		deadlineAt           time.Time
	)

	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(
		&op.ID,
		&op.QueryHash,
		&op.QueryID,
		&state,
		&op.TimeoutSeconds,
		&op.SizeLimitBytes,
		&op.CompressResponse,
		&op.ErrorCode,
		&op.ErrorMessage,
		&op.ErrorState,
		&createdAt,
		&updatedAt,
		&deadlineAt,
		&completedAt,
	)
	if err != nil {
		return nil, mapDBError(err)
	}

	op.State = domain.OperationState(state)
	op.CreatedAt = createdAt
	op.UpdatedAt = updatedAt
	op.DeadlineAt = deadlineAt
	if completedAt.Valid {
		t := completedAt.Time
		op.CompletedAt = &t
	}
	return &op, nil
}
