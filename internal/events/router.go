package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"snowbridge/internal/backend"
	"snowbridge/internal/dispatch"
	"snowbridge/internal/domain"
	"snowbridge/internal/results"
	"snowbridge/internal/runner"
)

// Operation types handled by the operations runner instead of the query
// dispatcher. Storage operations share the storage_ prefix.
const (
	OpTypeHealth       = "health"
	OpTypeGetLogs      = "get_logs"
	OpTypeFetchMetrics = "fetch_metrics"

	storageOpPrefix = "storage_"

	// healthPath addresses the health operation on orchestrator versions
	// that route by request path instead of operation type.
	healthPath = "/api/v1/test/health"
)

// Dispatcher is the query side of operation handling. Implemented by
// dispatch.Dispatcher.
type Dispatcher interface {
	EnqueueQuery(ctx context.Context, sub dispatch.Submission) error
	PushEnvelope(ctx context.Context, opID string, env results.Envelope, opts results.PushOptions) error
}

// OperationDownloader fetches operation bodies too large for the stream.
// Implemented by backend.Client.
type OperationDownloader interface {
	DownloadOperation(ctx context.Context, operationID string) (json.RawMessage, error)
}

// OperationScheduler queues non-query operations for the operations
// runner. Implemented by runner.Processor[domain.Event].
type OperationScheduler interface {
	Schedule(ctx context.Context, ev domain.Event) error
}

var (
	_ Dispatcher          = (*dispatch.Dispatcher)(nil)
	_ OperationDownloader = (*backend.Client)(nil)
	_ OperationScheduler  = (*runner.Processor[domain.Event])(nil)
)

// Router turns stream events into work. Queries go to the dispatcher,
// storage and diagnostics operations go to the operations runner, and an
// operation with no query at all is a connection test answered on the spot.
type Router struct {
	dispatcher Dispatcher
	downloader OperationDownloader
	ops        OperationScheduler
	acks       *AckScheduler
	log        *slog.Logger
}

// NewRouter creates a router over the given collaborators.
func NewRouter(
	dispatcher Dispatcher,
	downloader OperationDownloader,
	ops OperationScheduler,
	acks *AckScheduler,
	log *slog.Logger,
) *Router {
	return &Router{
		dispatcher: dispatcher,
		downloader: downloader,
		ops:        ops,
		acks:       acks,
		log:        log,
	}
}

// HandleEvent is the operation handler wired into the stream client.
func (r *Router) HandleEvent(ctx context.Context, data json.RawMessage) {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.log.Error("discarding unparseable event", "error", err)
		return
	}
	if ev.OperationID == "" {
		r.log.Debug("event without operation id ignored", "type", ev.Type)
		return
	}
	r.log.Info("operation received", "operation_id", ev.OperationID, "path", ev.Path)
	if r.acks != nil {
		r.acks.Schedule(ev.OperationID)
	}

	if ev.Operation != nil && ev.Operation.SizeExceeded {
		if !r.downloadOperation(ctx, &ev) {
			return
		}
	}

	if isRunnerOperation(&ev) {
		if err := r.ops.Schedule(ctx, ev); err != nil {
			r.log.Error("operation not scheduled", "operation_id", ev.OperationID, "error", err)
		}
		return
	}

	queries := ev.ExtractQueries(dispatch.DefaultQueryTimeoutSeconds)
	if len(queries) == 0 {
		r.pushConnectionTest(ctx, ev.OperationID)
		return
	}
	sub := dispatch.Submission{
		OperationID:    ev.OperationID,
		Query:          queries[0].Query,
		TimeoutSeconds: queries[0].Timeout,
	}
	if op := ev.Operation; op != nil {
		sub.SizeLimitBytes = op.ResponseSizeLimitBytes
		sub.Compress = op.CompressResponseFile
	}
	if err := r.dispatcher.EnqueueQuery(ctx, sub); err != nil {
		r.log.Error("query not scheduled", "operation_id", ev.OperationID, "error", err)
	}
}

// downloadOperation replaces the placeholder body of an oversized event
// with the full operation fetched from the orchestrator.
func (r *Router) downloadOperation(ctx context.Context, ev *domain.Event) bool {
	r.log.Info("downloading oversized operation", "operation_id", ev.OperationID)
	body, err := r.downloader.DownloadOperation(ctx, ev.OperationID)
	if err != nil {
		r.log.Error("operation download failed", "operation_id", ev.OperationID, "error", err)
		return false
	}
	var op domain.OperationRequest
	if err := json.Unmarshal(body, &op); err != nil {
		r.log.Error("downloaded operation unparseable", "operation_id", ev.OperationID, "error", err)
		return false
	}
	ev.Operation = &op
	return true
}

func (r *Router) pushConnectionTest(ctx context.Context, opID string) {
	env := results.ConnectionTest(opID)
	if err := r.dispatcher.PushEnvelope(ctx, opID, env, results.PushOptions{}); err != nil {
		r.log.Error("connection test response not pushed", "operation_id", opID, "error", err)
	}
}

func isRunnerOperation(ev *domain.Event) bool {
	if ev.Path == healthPath {
		return true
	}
	if ev.Operation == nil {
		return false
	}
	switch t := ev.Operation.Type; {
	case strings.HasPrefix(t, storageOpPrefix):
		return true
	case t == OpTypeHealth, t == OpTypeGetLogs, t == OpTypeFetchMetrics:
		return true
	}
	return false
}
