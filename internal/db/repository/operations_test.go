package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowbridge/internal/db"
	"snowbridge/internal/domain"
)

func newOperation(id string) *domain.Operation {
	return &domain.Operation{
		ID:             id,
		QueryHash:      "abc123",
		TimeoutSeconds: 850,
		DeadlineAt:     time.Now().Add(15 * time.Minute),
	}
}

func TestOperationRepo_CreateAndGet(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	op := newOperation("op-1")
	op.SizeLimitBytes = 100000
	op.CompressResponse = true
	require.NoError(t, repo.Create(context.Background(), op))

	loaded, err := repo.GetByID(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", loaded.ID)
	assert.Equal(t, "abc123", loaded.QueryHash)
	assert.Equal(t, domain.OperationStatePending, loaded.State)
	assert.Equal(t, 850, loaded.TimeoutSeconds)
	assert.Equal(t, 100000, loaded.SizeLimitBytes)
	assert.True(t, loaded.CompressResponse)
	assert.Nil(t, loaded.CompletedAt)
}

func TestOperationRepo_CreateDuplicateConflicts(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	require.NoError(t, repo.Create(context.Background(), newOperation("op-dup")))

	err := repo.Create(context.Background(), newOperation("op-dup"))
	require.Error(t, err)
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestOperationRepo_CreateValidatesID(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	err := repo.Create(context.Background(), newOperation("  "))
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)

	err = repo.Create(context.Background(), newOperation("bad\x00id"))
	assert.ErrorAs(t, err, &validation)
}

func TestOperationRepo_CompleteAndFailAreMutuallyExclusive(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	require.NoError(t, repo.Create(context.Background(), newOperation("op-race")))
	require.NoError(t, repo.MarkSubmitted(context.Background(), "op-race", "sfq-1"))

	won, err := repo.Complete(context.Background(), "op-race", "sfq-1")
	require.NoError(t, err)
	assert.True(t, won)

	// The losing callback must observe the settled state and back off.
	won, err = repo.Fail(context.Background(), "op-race", 604, "canceled", "57014")
	require.NoError(t, err)
	assert.False(t, won)

	loaded, err := repo.GetByID(context.Background(), "op-race")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateCompleted, loaded.State)
	assert.Equal(t, "sfq-1", loaded.QueryID)
	assert.Empty(t, loaded.ErrorMessage)
	require.NotNil(t, loaded.CompletedAt)
}

func TestOperationRepo_FailRecordsErrorDetails(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	require.NoError(t, repo.Create(context.Background(), newOperation("op-fail")))

	won, err := repo.Fail(context.Background(), "op-fail", 3001, "insufficient privileges", "42501")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Complete(context.Background(), "op-fail", "sfq-late")
	require.NoError(t, err)
	assert.False(t, won)

	loaded, err := repo.GetByID(context.Background(), "op-fail")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateFailed, loaded.State)
	assert.Equal(t, 3001, loaded.ErrorCode)
	assert.Equal(t, "insufficient privileges", loaded.ErrorMessage)
	assert.Equal(t, "42501", loaded.ErrorState)
}

func TestOperationRepo_CompleteMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	_, err := repo.Complete(context.Background(), "op-missing", "sfq-1")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestOperationRepo_MarkSubmittedRequiresPending(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	require.NoError(t, repo.Create(context.Background(), newOperation("op-sub")))
	_, err := repo.Complete(context.Background(), "op-sub", "sfq-1")
	require.NoError(t, err)

	err = repo.MarkSubmitted(context.Background(), "op-sub", "sfq-2")
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestOperationRepo_SweepOverdue(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	overdue := newOperation("op-overdue")
	overdue.DeadlineAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(context.Background(), overdue))

	fresh := newOperation("op-fresh")
	require.NoError(t, repo.Create(context.Background(), fresh))

	settled := newOperation("op-settled")
	settled.DeadlineAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(context.Background(), settled))
	_, err := repo.Complete(context.Background(), "op-settled", "sfq-1")
	require.NoError(t, err)

	swept, err := repo.SweepOverdue(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "op-overdue", swept[0].ID)
	assert.Equal(t, domain.OperationStateTimedOut, swept[0].State)
	assert.Equal(t, "operation timed out", swept[0].ErrorMessage)

	loaded, err := repo.GetByID(context.Background(), "op-fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatePending, loaded.State)

	loaded, err = repo.GetByID(context.Background(), "op-settled")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateCompleted, loaded.State)
}

func TestOperationRepo_DeleteOlderThan(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	require.NoError(t, repo.Create(context.Background(), newOperation("op-old")))
	_, err := repo.Complete(context.Background(), "op-old", "sfq-1")
	require.NoError(t, err)
	_, err = writeDB.Exec(`UPDATE operations SET completed_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour).UTC(), "op-old")
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), newOperation("op-live")))

	pruned, err := repo.DeleteOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = repo.GetByID(context.Background(), "op-old")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = repo.GetByID(context.Background(), "op-live")
	require.NoError(t, err)
}

func TestOperationRepo_CountByState(t *testing.T) {
	t.Parallel()

	writeDB := db.OpenTest(t)
	repo := NewOperationRepo(writeDB)

	require.NoError(t, repo.Create(context.Background(), newOperation("op-a")))
	require.NoError(t, repo.Create(context.Background(), newOperation("op-b")))
	_, err := repo.Complete(context.Background(), "op-b", "sfq-1")
	require.NoError(t, err)

	counts, err := repo.CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.OperationStatePending])
	assert.Equal(t, 1, counts[domain.OperationStateCompleted])
}
