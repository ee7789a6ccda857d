package app

import (
	"context"
	"encoding/json"

	"snowbridge/internal/domain"
	"snowbridge/internal/events"
	"snowbridge/internal/results"
	"snowbridge/internal/storage"
)

// handleOperation runs one non-query operation from the operations queue
// and pushes its envelope. Failures become error envelopes; the push
// itself is durable through the dispatcher's outbox.
func (a *App) handleOperation(ctx context.Context, ev domain.Event) {
	var opType, traceID string
	var raw json.RawMessage
	if ev.Operation != nil {
		opType = ev.Operation.Type
		traceID = ev.Operation.TraceID
		raw = ev.Operation.Raw
	}

	value, err := a.runOperation(ctx, opType, traceID, raw)
	if err != nil {
		a.log.Error("operation failed", "operation_id", ev.OperationID, "type", opType, "error", err)
		a.pushOperationResult(ctx, ev.OperationID, results.FromError(err))
		return
	}
	env := results.Envelope{domain.AttrResult: value}
	if traceID != "" {
		env[domain.AttrTraceID] = traceID
	}
	a.pushOperationResult(ctx, ev.OperationID, env)
}

func (a *App) runOperation(ctx context.Context, opType, traceID string, raw json.RawMessage) (interface{}, error) {
	switch {
	case storage.Supports(opType):
		return a.Storage.Execute(ctx, raw)
	case opType == events.OpTypeGetLogs:
		entries, err := a.Logs.GetLogs(ctx, logFetchLimit(raw))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"events": entries}, nil
	case opType == events.OpTypeFetchMetrics:
		lines, err := a.platform.FetchMetrics(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"metrics": lines}, nil
	default:
		// health, and any path-routed operation without a type.
		return a.HealthReport(ctx, traceID), nil
	}
}

func (a *App) pushOperationResult(ctx context.Context, opID string, env results.Envelope) {
	if err := a.Dispatcher.PushEnvelope(ctx, opID, env, results.PushOptions{}); err != nil {
		a.log.Error("operation result not pushed", "operation_id", opID, "error", err)
	}
}

// logFetchLimit reads the limit carried flat on a get_logs operation.
// Absent or malformed limits fall back to the service default.
func logFetchLimit(raw json.RawMessage) int {
	var params struct {
		Limit int `json:"limit"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &params)
	}
	return params.Limit
}
