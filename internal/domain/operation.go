package domain

import (
	"strings"
	"time"
	"unicode"
)

// OperationState represents the lifecycle state of a dispatched operation.
type OperationState string

const (
	// OperationStatePending means the operation is recorded but not yet submitted.
	OperationStatePending OperationState = "PENDING"
	// OperationStateSubmitted means the query block was handed to the warehouse.
	OperationStateSubmitted OperationState = "SUBMITTED"
	// OperationStateCompleted means the success callback was received.
	OperationStateCompleted OperationState = "COMPLETED"
	// OperationStateFailed means the failure callback was received.
	OperationStateFailed OperationState = "FAILED"
	// OperationStateTimedOut means no callback arrived before the deadline.
	OperationStateTimedOut OperationState = "TIMED_OUT"
)

// Terminal reports whether the state is final. Terminal operations never
// transition again; a late callback for a terminal operation is dropped.
func (s OperationState) Terminal() bool {
	switch s {
	case OperationStateCompleted, OperationStateFailed, OperationStateTimedOut:
		return true
	}
	return false
}

// Operation is one row of the dispatch ledger. Exactly one of the completion
// callbacks settles it; the sweeper times it out if neither arrives.
type Operation struct {
	ID             string
	QueryHash      string
	QueryID        string
	State          OperationState
	TimeoutSeconds int
	// SizeLimitBytes and CompressResponse are the per-operation response
	// options, kept in the ledger so the publish after the completion
	// callback honors them even across a restart.
	SizeLimitBytes   int
	CompressResponse bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeadlineAt       time.Time
	CompletedAt      *time.Time
	ErrorCode        int
	ErrorMessage     string
	ErrorState       string
}

// OutboxEntry is a durably queued result push. Entries are retried until
// delivered and pruned after a retention window.
type OutboxEntry struct {
	ID            int64
	OperationID   string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	DeliveredAt   *time.Time
	LastError     string
}

// MaxOperationIDLength bounds caller-supplied operation ids.
const MaxOperationIDLength = 255

// ValidateOperationID checks an operation id received from the backend or a
// callback row. Ids are opaque but must be printable and bounded so they are
// safe as ledger keys, URL path segments, and storage key suffixes.
func ValidateOperationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrValidation("operation id is required")
	}
	if len(id) > MaxOperationIDLength {
		return ErrValidation("operation id exceeds %d characters", MaxOperationIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return ErrValidation("operation id contains control characters")
		}
	}
	return nil
}
