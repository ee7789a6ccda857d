package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"snowbridge/internal/domain"
	"snowbridge/internal/results"
)

const (
	retryBaseDelay = 5 * time.Second
	retryMaxDelay  = 5 * time.Minute

	flushBatchSize = 50
)

// retryDelay returns the backoff before the next push attempt, doubling per
// attempt up to the cap.
func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := retryBaseDelay << attempts
	if d <= 0 || d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

// SweepTimeouts times out every operation past its deadline, cancels its
// statement best-effort, and pushes the timeout envelope. Returns the
// number of operations swept.
func (d *Dispatcher) SweepTimeouts(ctx context.Context) (int, error) {
	swept, err := d.operations.SweepOverdue(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for i := range swept {
		op := &swept[i]
		d.log.Warn("operation timed out", "op_id", op.ID, "query_id", op.QueryID, "timeout_secs", op.TimeoutSeconds)
		if op.QueryID != "" {
			if err := d.gateway.Cancel(ctx, op.QueryID); err != nil {
				d.log.Debug("canceling timed out statement", "op_id", op.ID, "error", err)
			}
		}
		payload, err := json.Marshal(results.Failure(timedOutErrorCode, op.ErrorMessage, ""))
		if err != nil {
			continue
		}
		d.resolveWaiters(op.ID, payload)
		if perr := d.schedulePush(ctx, op.ID, payload); perr != nil {
			d.log.Error("scheduling timeout push", "op_id", op.ID, "error", perr)
		}
	}
	return len(swept), nil
}

// FlushOutbox retries undelivered pushes that are due. Returns the number
// delivered.
func (d *Dispatcher) FlushOutbox(ctx context.Context) (int, error) {
	due, err := d.outbox.Due(ctx, time.Now(), flushBatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, entry := range due {
		if err := d.backend.PushResult(ctx, entry.OperationID, entry.Payload); err != nil {
			d.log.Warn("result push retry failed", "op_id", entry.OperationID, "attempts", entry.Attempts+1, "error", err)
			next := time.Now().Add(retryDelay(entry.Attempts))
			if rerr := d.outbox.Reschedule(ctx, entry.ID, next, err.Error()); rerr != nil {
				d.log.Error("rescheduling result push", "op_id", entry.OperationID, "error", rerr)
			}
			continue
		}
		if err := d.outbox.MarkDelivered(ctx, entry.ID); err != nil {
			d.log.Error("marking result delivered", "op_id", entry.OperationID, "error", err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		d.log.Info("outbox flushed", "delivered", delivered, "due", len(due))
	}
	return delivered, nil
}

// Prune drops ledger rows and outbox entries older than the retention
// window. Undelivered pushes past retention are dropped with an error log
// per entry.
func (d *Dispatcher) Prune(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	expired, err := d.outbox.ExpireUndelivered(ctx, cutoff)
	for _, entry := range expired {
		d.log.Error("dropping undeliverable result push",
			"op_id", entry.OperationID, "attempts", entry.Attempts, "last_error", entry.LastError)
	}
	if err != nil {
		return err
	}
	if _, err := d.outbox.PruneDelivered(ctx, cutoff); err != nil {
		return err
	}
	pruned, err := d.operations.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if pruned > 0 || len(expired) > 0 {
		d.log.Info("ledger pruned", "operations", pruned, "dropped_pushes", len(expired))
	}
	return nil
}

// QueueDepths reports the number of unsettled operations and undelivered
// result pushes, for health reporting.
func (d *Dispatcher) QueueDepths(ctx context.Context) (inFlight, outboxPending int, err error) {
	counts, err := d.operations.CountByState(ctx)
	if err != nil {
		return 0, 0, err
	}
	outboxPending, err = d.outbox.PendingCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	inFlight = counts[domain.OperationStatePending] + counts[domain.OperationStateSubmitted]
	return inFlight, outboxPending, nil
}
