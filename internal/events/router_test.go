package events_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowbridge/internal/dispatch"
	"snowbridge/internal/domain"
	"snowbridge/internal/events"
	"snowbridge/internal/results"
)

type fakeDispatcher struct {
	enqueueFn func(ctx context.Context, sub dispatch.Submission) error
	pushFn    func(ctx context.Context, opID string, env results.Envelope, opts results.PushOptions) error
}

func (d *fakeDispatcher) EnqueueQuery(ctx context.Context, sub dispatch.Submission) error {
	if d.enqueueFn == nil {
		panic("unexpected EnqueueQuery call")
	}
	return d.enqueueFn(ctx, sub)
}

func (d *fakeDispatcher) PushEnvelope(ctx context.Context, opID string, env results.Envelope, opts results.PushOptions) error {
	if d.pushFn == nil {
		panic("unexpected PushEnvelope call")
	}
	return d.pushFn(ctx, opID, env, opts)
}

type fakeDownloader struct {
	downloadFn func(ctx context.Context, operationID string) (json.RawMessage, error)
}

func (d *fakeDownloader) DownloadOperation(ctx context.Context, operationID string) (json.RawMessage, error) {
	if d.downloadFn == nil {
		panic("unexpected DownloadOperation call")
	}
	return d.downloadFn(ctx, operationID)
}

type fakeOpsScheduler struct {
	scheduleFn func(ctx context.Context, ev domain.Event) error
}

func (s *fakeOpsScheduler) Schedule(ctx context.Context, ev domain.Event) error {
	if s.scheduleFn == nil {
		panic("unexpected Schedule call")
	}
	return s.scheduleFn(ctx, ev)
}

func newRouter(d *fakeDispatcher, dl *fakeDownloader, ops *fakeOpsScheduler, acks *events.AckScheduler) *events.Router {
	return events.NewRouter(d, dl, ops, acks, slog.New(slog.DiscardHandler))
}

func TestRouterEnqueuesQueryFromCommands(t *testing.T) {
	t.Parallel()

	var got dispatch.Submission
	router := newRouter(&fakeDispatcher{
		enqueueFn: func(_ context.Context, sub dispatch.Submission) error {
			got = sub
			return nil
		},
	}, &fakeDownloader{}, &fakeOpsScheduler{}, nil)

	router.HandleEvent(context.Background(), json.RawMessage(`{
		"operation_id": "op-1",
		"path": "/api/v1/agent/execute/snowflake/query",
		"operation": {
			"trace_id": "trace-1",
			"response_size_limit_bytes": 100000,
			"compress_response_file": true,
			"commands": [
				{"target": "_cursor", "method": "execute",
				 "args": ["ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS=700"]},
				{"target": "_cursor", "method": "execute", "args": ["SELECT * FROM t"]},
				{"target": "_cursor", "method": "fetchall", "args": []}
			]
		}
	}`))

	assert.Equal(t, "op-1", got.OperationID)
	assert.Equal(t, "SELECT * FROM t", got.Query)
	assert.Equal(t, 700, got.TimeoutSeconds)
	assert.Equal(t, 100000, got.SizeLimitBytes)
	assert.True(t, got.Compress)
}

func TestRouterEnqueuesLegacyQueryEvent(t *testing.T) {
	t.Parallel()

	var got dispatch.Submission
	router := newRouter(&fakeDispatcher{
		enqueueFn: func(_ context.Context, sub dispatch.Submission) error {
			got = sub
			return nil
		},
	}, &fakeDownloader{}, &fakeOpsScheduler{}, nil)

	router.HandleEvent(context.Background(), json.RawMessage(`{"operation_id":"op-legacy","query":"SELECT 1"}`))

	assert.Equal(t, "op-legacy", got.OperationID)
	assert.Equal(t, "SELECT 1", got.Query)
	assert.Equal(t, dispatch.DefaultQueryTimeoutSeconds, got.TimeoutSeconds)
}

func TestRouterAnswersConnectionTest(t *testing.T) {
	t.Parallel()

	var gotOp string
	var gotEnv results.Envelope
	router := newRouter(&fakeDispatcher{
		pushFn: func(_ context.Context, opID string, env results.Envelope, _ results.PushOptions) error {
			gotOp = opID
			gotEnv = env
			return nil
		},
	}, &fakeDownloader{}, &fakeOpsScheduler{}, nil)

	router.HandleEvent(context.Background(), json.RawMessage(`{
		"operation_id": "op-probe",
		"operation": {"trace_id": "trace-probe"}
	}`))

	assert.Equal(t, "op-probe", gotOp)
	assert.Equal(t, map[string]interface{}{"ok": true}, gotEnv["__mcd_result__"])
	assert.Equal(t, "op-probe", gotEnv["__mcd_trace_id__"])
}

func TestRouterRoutesStorageOperationToRunner(t *testing.T) {
	t.Parallel()

	var got domain.Event
	router := newRouter(&fakeDispatcher{}, &fakeDownloader{}, &fakeOpsScheduler{
		scheduleFn: func(_ context.Context, ev domain.Event) error {
			got = ev
			return nil
		},
	}, nil)

	router.HandleEvent(context.Background(), json.RawMessage(`{
		"operation_id": "op-store",
		"operation": {"type": "storage_read", "key": "responses/abc"}
	}`))

	assert.Equal(t, "op-store", got.OperationID)
	require.NotNil(t, got.Operation)
	assert.Equal(t, "storage_read", got.Operation.Type)
}

func TestRouterRoutesHealthPathToRunner(t *testing.T) {
	t.Parallel()

	var got domain.Event
	router := newRouter(&fakeDispatcher{}, &fakeDownloader{}, &fakeOpsScheduler{
		scheduleFn: func(_ context.Context, ev domain.Event) error {
			got = ev
			return nil
		},
	}, nil)

	router.HandleEvent(context.Background(), json.RawMessage(`{
		"operation_id": "op-health",
		"path": "/api/v1/test/health",
		"operation": {"trace_id": "trace-health"}
	}`))

	assert.Equal(t, "op-health", got.OperationID)
}

func TestRouterDownloadsOversizedOperation(t *testing.T) {
	t.Parallel()

	var downloaded string
	var got dispatch.Submission
	router := newRouter(&fakeDispatcher{
		enqueueFn: func(_ context.Context, sub dispatch.Submission) error {
			got = sub
			return nil
		},
	}, &fakeDownloader{
		downloadFn: func(_ context.Context, operationID string) (json.RawMessage, error) {
			downloaded = operationID
			return json.RawMessage(`{
				"trace_id": "trace-big",
				"commands": [
					{"target": "_cursor", "method": "execute", "args": ["SELECT 42"]}
				]
			}`), nil
		},
	}, &fakeOpsScheduler{}, nil)

	router.HandleEvent(context.Background(), json.RawMessage(`{
		"operation_id": "op-big",
		"operation": {"__mcd_size_exceeded__": true}
	}`))

	assert.Equal(t, "op-big", downloaded)
	assert.Equal(t, "SELECT 42", got.Query)
}

func TestRouterDropsEventWhenDownloadFails(t *testing.T) {
	t.Parallel()

	router := newRouter(&fakeDispatcher{}, &fakeDownloader{
		downloadFn: func(context.Context, string) (json.RawMessage, error) {
			return nil, context.DeadlineExceeded
		},
	}, &fakeOpsScheduler{}, nil)

	// Neither dispatcher nor runner may be called; the fakes panic if so.
	router.HandleEvent(context.Background(), json.RawMessage(`{
		"operation_id": "op-lost",
		"operation": {"__mcd_size_exceeded__": true}
	}`))
}

func TestRouterSchedulesAckOnReceipt(t *testing.T) {
	t.Parallel()

	acks := events.NewAckScheduler(&fakeAckSink{}, time.Hour, time.Hour, slog.New(slog.DiscardHandler))
	router := newRouter(&fakeDispatcher{
		enqueueFn: func(context.Context, dispatch.Submission) error { return nil },
	}, &fakeDownloader{}, &fakeOpsScheduler{}, acks)

	router.HandleEvent(context.Background(), json.RawMessage(`{"operation_id":"op-ack","query":"SELECT 1"}`))

	assert.Equal(t, 1, acks.Pending())
}
