// Package dispatch owns the asynchronous execution handshake. Every
// submitted query is recorded in a durable ledger before the wrapped block
// goes to the warehouse; the completion callbacks settle the ledger with a
// compare-and-swap so exactly one terminal transition wins, and the result
// envelope is pushed to the orchestrator through a retrying outbox.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"snowbridge/internal/backend"
	"snowbridge/internal/config"
	"snowbridge/internal/db/repository"
	"snowbridge/internal/domain"
	"snowbridge/internal/results"
	"snowbridge/internal/runner"
	"snowbridge/internal/snowflake"
)

// DefaultQueryTimeoutSeconds bounds query execution when an operation does
// not carry its own timeout.
const DefaultQueryTimeoutSeconds = 850

const (
	// deadlineGrace is added to the statement timeout before the sweeper
	// may declare an operation dead. The warehouse callback normally fires
	// well inside this window.
	deadlineGrace = 60 * time.Second

	// timedOutErrorCode is the statement-timeout code reported for swept
	// operations.
	timedOutErrorCode = 630

	queueDepth = 256
)

// QueryGateway is the slice of the warehouse gateway the dispatcher drives.
type QueryGateway interface {
	SubmitRunQuery(ctx context.Context, opID, query string, timeoutSecs int) (string, error)
	ExecuteHelperQuery(ctx context.Context, query string, timeoutSecs int) (*snowflake.ResultSet, error)
	FetchQueryResult(ctx context.Context, queryID string) (*snowflake.ResultSet, error)
	Cancel(ctx context.Context, handle string) error
}

// ResultSink delivers result envelopes to the orchestrator.
type ResultSink interface {
	PushResult(ctx context.Context, operationID string, result json.RawMessage) error
}

var (
	_ QueryGateway = (*snowflake.Gateway)(nil)
	_ ResultSink   = (*backend.Client)(nil)
)

// Submission is one query execution request extracted from an operation.
type Submission struct {
	OperationID    string
	Query          string
	TimeoutSeconds int
	SizeLimitBytes int
	Compress       bool
}

// publishTask is one unit of work for the publisher workers: either a
// result fetch for a completed query or a prepared payload.
type publishTask struct {
	operationID string
	queryID     string
	payload     []byte
	opts        results.PushOptions
}

// Dispatcher coordinates submissions, callbacks, and result pushes.
type Dispatcher struct {
	gateway    QueryGateway
	backend    ResultSink
	operations *repository.OperationRepo
	outbox     *repository.OutboxRepo
	offloader  *results.Offloader
	settings   *config.Manager
	log        *slog.Logger

	queries   *runner.Processor[Submission]
	publisher *runner.Processor[publishTask]

	mu      sync.Mutex
	waiters map[string][]chan json.RawMessage
}

// NewDispatcher creates a Dispatcher with query and publisher worker pools
// sized from the dynamic configuration.
func NewDispatcher(
	gateway QueryGateway,
	sink ResultSink,
	operations *repository.OperationRepo,
	outbox *repository.OutboxRepo,
	offloader *results.Offloader,
	settings *config.Manager,
	log *slog.Logger,
) *Dispatcher {
	d := &Dispatcher{
		gateway:    gateway,
		backend:    sink,
		operations: operations,
		outbox:     outbox,
		offloader:  offloader,
		settings:   settings,
		log:        log,
		waiters:    make(map[string][]chan json.RawMessage),
	}
	d.queries = runner.New("queries", settings.QueryWorkers(), queueDepth, d.runSubmission, log)
	d.publisher = runner.New("publisher", settings.PublisherWorkers(), queueDepth, d.publish, log)
	return d
}

// Start launches the worker pools.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queries.Start(ctx)
	d.publisher.Start(ctx)
}

// Stop drains both pools. Queued submissions and pushes are processed
// before Stop returns.
func (d *Dispatcher) Stop() {
	d.queries.Stop()
	d.publisher.Stop()
}

// EnqueueQuery hands a submission to the query workers.
func (d *Dispatcher) EnqueueQuery(ctx context.Context, sub Submission) error {
	return d.queries.Schedule(ctx, sub)
}

// Submit records a submission in the ledger and hands the query to the
// warehouse. Resubmitting an id with the same query text is an idempotent
// retry; the same id with a different query is a conflict. Submission
// failures after the ledger insert settle the operation and push an error
// envelope instead of returning an error.
func (d *Dispatcher) Submit(ctx context.Context, sub Submission) error {
	timeout := sub.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultQueryTimeoutSeconds
	}
	hash := queryHash(sub.Query)
	op := &domain.Operation{
		ID:               sub.OperationID,
		QueryHash:        hash,
		TimeoutSeconds:   timeout,
		SizeLimitBytes:   sub.SizeLimitBytes,
		CompressResponse: sub.Compress,
		DeadlineAt:       time.Now().Add(time.Duration(timeout)*time.Second + deadlineGrace),
	}
	if err := d.operations.Create(ctx, op); err != nil {
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		existing, getErr := d.operations.GetByID(ctx, sub.OperationID)
		if getErr != nil {
			return err
		}
		if existing.QueryHash == hash {
			d.log.Info("duplicate submission ignored", "op_id", sub.OperationID)
			return nil
		}
		return domain.ErrConflict("operation %q already exists with a different query", sub.OperationID)
	}

	if d.settings.UseSyncQueries() {
		return d.runSync(ctx, op, sub.Query)
	}

	handle, err := d.gateway.SubmitRunQuery(ctx, sub.OperationID, sub.Query, timeout)
	if err != nil {
		d.settleError(ctx, sub.OperationID, err)
		return nil
	}
	if err := d.operations.MarkSubmitted(ctx, sub.OperationID, handle); err != nil {
		// A fast callback can settle the operation before the handle is
		// recorded; the ledger already holds the terminal state then.
		d.log.Debug("submitted state not recorded", "op_id", sub.OperationID, "error", err)
	}
	d.log.Info("query submitted", "op_id", sub.OperationID, "handle", handle, "timeout_secs", timeout)
	return nil
}

// HandleCompleted settles an operation from the success callback and
// schedules the result fetch and push. A callback for an operation that is
// already terminal is dropped; the returned bool reports whether this
// callback won the settle.
func (d *Dispatcher) HandleCompleted(ctx context.Context, opID, queryID string) (bool, error) {
	won, err := d.operations.Complete(ctx, opID, queryID)
	if err != nil {
		return false, err
	}
	if !won {
		d.log.Info("dropping late completion callback", "op_id", opID, "query_id", queryID)
		return false, nil
	}
	op, err := d.operations.GetByID(ctx, opID)
	if err != nil {
		return true, err
	}
	return true, d.publisher.Schedule(ctx, publishTask{
		operationID: opID,
		queryID:     queryID,
		opts:        pushOptionsFor(op),
	})
}

// HandleFailed settles an operation from the failure callback and schedules
// the error envelope push.
func (d *Dispatcher) HandleFailed(ctx context.Context, opID string, code int, message, sqlState string) (bool, error) {
	won, err := d.operations.Fail(ctx, opID, code, snowflake.CleanErrorMessage(message), sqlState)
	if err != nil {
		return false, err
	}
	if !won {
		d.log.Info("dropping late failure callback", "op_id", opID, "code", code)
		return false, nil
	}
	d.log.Info("query failed", "op_id", opID, "code", code, "sql_state", sqlState)
	payload, err := json.Marshal(results.Failure(code, message, sqlState))
	if err != nil {
		return true, err
	}
	return true, d.schedulePush(ctx, opID, payload)
}

// PushEnvelope prepares an envelope and queues it for delivery. Storage,
// health, and log operations push their results through here.
func (d *Dispatcher) PushEnvelope(ctx context.Context, opID string, env results.Envelope, opts results.PushOptions) error {
	payload, err := d.offloader.Prepare(ctx, opID, env, opts)
	if err != nil {
		return err
	}
	return d.schedulePush(ctx, opID, payload)
}

// Await blocks until the operation settles and returns the envelope pushed
// for it. For an operation that is already terminal the envelope is rebuilt
// from the ledger.
func (d *Dispatcher) Await(ctx context.Context, opID string) (json.RawMessage, error) {
	ch := d.addWaiter(opID)
	defer d.removeWaiter(opID, ch)

	op, err := d.operations.GetByID(ctx, opID)
	if err != nil {
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// Not in the ledger yet; the submission may still be queued.
	} else if op.State.Terminal() {
		return d.settledPayload(ctx, op)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-ch:
		return payload, nil
	}
}

// runSubmission is the query worker handler.
func (d *Dispatcher) runSubmission(ctx context.Context, sub Submission) {
	err := d.Submit(ctx, sub)
	if err == nil {
		return
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		// The first submission owns the id and pushes its own result.
		d.log.Error("conflicting resubmission rejected", "op_id", sub.OperationID, "error", err)
		return
	}
	d.log.Error("query submission failed", "op_id", sub.OperationID, "error", err)
	payload, merr := json.Marshal(results.FromError(err))
	if merr != nil {
		return
	}
	if perr := d.schedulePush(ctx, sub.OperationID, payload); perr != nil {
		d.log.Error("scheduling error push", "op_id", sub.OperationID, "error", perr)
	}
}

// runSync executes the query through the helper procedure and pushes the
// result inline. Used when USE_SYNC_QUERIES is set.
func (d *Dispatcher) runSync(ctx context.Context, op *domain.Operation, query string) error {
	rs, err := d.gateway.ExecuteHelperQuery(ctx, query, op.TimeoutSeconds)
	if err != nil {
		d.settleError(ctx, op.ID, err)
		return nil
	}
	won, err := d.operations.Complete(ctx, op.ID, rs.StatementHandle)
	if err != nil {
		return err
	}
	if !won {
		d.log.Info("dropping result for settled operation", "op_id", op.ID)
		return nil
	}
	d.log.Info("sync query executed", "op_id", op.ID, "handle", rs.StatementHandle)
	payload, err := d.offloader.Prepare(ctx, op.ID, results.Success(op.ID, rs), pushOptionsFor(op))
	if err != nil {
		return err
	}
	return d.schedulePush(ctx, op.ID, payload)
}

// settleError records a submission failure and pushes the error envelope.
func (d *Dispatcher) settleError(ctx context.Context, opID string, cause error) {
	d.log.Error("query execution failed", "op_id", opID, "error", cause)
	code, state := 0, ""
	var stmtErr *snowflake.StatementError
	if errors.As(cause, &stmtErr) {
		code, state = stmtErr.CodeInt(), stmtErr.SQLState
	}
	won, err := d.operations.Fail(ctx, opID, code, cause.Error(), state)
	if err != nil {
		d.log.Error("recording submission failure", "op_id", opID, "error", err)
		return
	}
	if !won {
		d.log.Info("dropping error for settled operation", "op_id", opID)
		return
	}
	payload, err := json.Marshal(results.FromError(cause))
	if err != nil {
		return
	}
	if perr := d.schedulePush(ctx, opID, payload); perr != nil {
		d.log.Error("scheduling error push", "op_id", opID, "error", perr)
	}
}

// publish is the publisher worker handler. Fetch failures are logged and
// dropped; the orchestrator recovers through its own operation timeout.
// Push failures ride the outbox.
func (d *Dispatcher) publish(ctx context.Context, task publishTask) {
	payload := task.payload
	if task.queryID != "" {
		rs, err := d.gateway.FetchQueryResult(ctx, task.queryID)
		if err != nil {
			d.log.Error("fetching query result", "op_id", task.operationID, "query_id", task.queryID, "error", err)
			return
		}
		payload, err = d.offloader.Prepare(ctx, task.operationID, results.Success(task.operationID, rs), task.opts)
		if err != nil {
			d.log.Error("preparing result payload", "op_id", task.operationID, "error", err)
			return
		}
	}
	d.deliver(ctx, task.operationID, payload)
}

func (d *Dispatcher) schedulePush(ctx context.Context, opID string, payload []byte) error {
	return d.publisher.Schedule(ctx, publishTask{operationID: opID, payload: payload})
}

// deliver enqueues the payload durably, resolves in-process waiters, and
// attempts one immediate push. Failed pushes stay in the outbox for the
// flush job.
func (d *Dispatcher) deliver(ctx context.Context, opID string, payload []byte) {
	d.resolveWaiters(opID, payload)

	entryID, err := d.outbox.Enqueue(ctx, opID, payload)
	if err != nil {
		d.log.Error("enqueueing result push", "op_id", opID, "error", err)
		return
	}
	if err := d.backend.PushResult(ctx, opID, payload); err != nil {
		d.log.Warn("result push failed", "op_id", opID, "error", err)
		if rerr := d.outbox.Reschedule(ctx, entryID, time.Now().Add(retryDelay(0)), err.Error()); rerr != nil {
			d.log.Error("rescheduling result push", "op_id", opID, "error", rerr)
		}
		return
	}
	if err := d.outbox.MarkDelivered(ctx, entryID); err != nil {
		d.log.Error("marking result delivered", "op_id", opID, "error", err)
		return
	}
	d.log.Info("result pushed", "op_id", opID, "bytes", len(payload))
}

// settledPayload rebuilds the envelope for an operation that settled before
// Await was called.
func (d *Dispatcher) settledPayload(ctx context.Context, op *domain.Operation) (json.RawMessage, error) {
	switch op.State {
	case domain.OperationStateCompleted:
		rs, err := d.gateway.FetchQueryResult(ctx, op.QueryID)
		if err != nil {
			return nil, err
		}
		return d.offloader.Prepare(ctx, op.ID, results.Success(op.ID, rs), pushOptionsFor(op))
	case domain.OperationStateFailed:
		return json.Marshal(results.Failure(op.ErrorCode, op.ErrorMessage, op.ErrorState))
	default:
		return json.Marshal(results.Failure(timedOutErrorCode, op.ErrorMessage, ""))
	}
}

func (d *Dispatcher) addWaiter(opID string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	d.mu.Lock()
	d.waiters[opID] = append(d.waiters[opID], ch)
	d.mu.Unlock()
	return ch
}

func (d *Dispatcher) removeWaiter(opID string, ch chan json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	chans := d.waiters[opID]
	for i, c := range chans {
		if c == ch {
			d.waiters[opID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(d.waiters[opID]) == 0 {
		delete(d.waiters, opID)
	}
}

func (d *Dispatcher) resolveWaiters(opID string, payload []byte) {
	d.mu.Lock()
	chans := d.waiters[opID]
	delete(d.waiters, opID)
	d.mu.Unlock()
	for _, ch := range chans {
		ch <- json.RawMessage(payload)
	}
}

func pushOptionsFor(op *domain.Operation) results.PushOptions {
	return results.PushOptions{
		SizeLimitBytes: op.SizeLimitBytes,
		Compress:       op.CompressResponse,
	}
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}
