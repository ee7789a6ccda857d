package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowbridge/internal/config"
	"snowbridge/internal/db"
	"snowbridge/internal/domain"
	"snowbridge/internal/logs"
	"snowbridge/internal/metrics"
	"snowbridge/internal/snowflake"
)

// backendRecorder stands in for the orchestrator and records result pushes
// by operation id.
type backendRecorder struct {
	srv *httptest.Server

	mu     sync.Mutex
	pushes map[string]json.RawMessage
}

func newBackendRecorder(t *testing.T) *backendRecorder {
	t.Helper()
	rec := &backendRecorder{pushes: make(map[string]json.RawMessage)}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if r.Method != http.MethodPost ||
			!strings.HasPrefix(path, "/api/v1/agent/operations/") ||
			!strings.HasSuffix(path, "/result") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		opID := strings.TrimSuffix(strings.TrimPrefix(path, "/api/v1/agent/operations/"), "/result")
		var body struct {
			Result json.RawMessage `json:"result"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.mu.Lock()
		rec.pushes[opID] = body.Result
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (rec *backendRecorder) result(opID string) (json.RawMessage, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	payload, ok := rec.pushes[opID]
	return payload, ok
}

// waitFor blocks until a result was pushed for opID and returns the decoded
// envelope.
func (rec *backendRecorder) waitFor(t *testing.T, opID string) map[string]interface{} {
	t.Helper()
	var payload json.RawMessage
	require.Eventually(t, func() bool {
		p, ok := rec.result(opID)
		payload = p
		return ok
	}, 3*time.Second, 20*time.Millisecond)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	return decoded
}

// newTestApp wires a local-mode agent against a recording orchestrator and
// a stage mount in a temp dir. The dispatcher pools are started; the event
// stream and the cron are not.
func newTestApp(t *testing.T, mutate func(cfg *config.Config)) (*App, *backendRecorder, *logs.Ring) {
	t.Helper()
	rec := newBackendRecorder(t)
	writeDB := db.OpenTest(t)

	cfg := &config.Config{
		AppDatabase:     "MCD_AGENT",
		AgentID:         "snowflake",
		BackendURL:      rec.srv.URL,
		Env:             "local",
		ListenPort:      8081,
		CredsFile:       filepath.Join(t.TempDir(), "secret_string"),
		LogLevel:        "error",
		EventsTransport: "sse",
		StorageProvider: config.StorageProviderStage,
		StageMountPath:  t.TempDir(),
		ConfigTable:     "MCD_AGENT.CONFIG.APP_CONFIG",
		Snowflake:       config.SnowflakeConfig{Account: "TESTACC", TokenFile: "/nonexistent"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	ring := logs.NewRing(64)
	a, err := New(context.Background(), Deps{
		Cfg:      cfg,
		LedgerDB: writeDB,
		Ring:     ring,
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a.Dispatcher.Start(ctx)
	t.Cleanup(func() {
		a.Dispatcher.Stop()
		cancel()
	})
	return a, rec, ring
}

func eventFromJSON(t *testing.T, raw string) domain.Event {
	t.Helper()
	var ev domain.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestNewBuildsStreamOnlyWithBackendURL(t *testing.T) {
	t.Parallel()

	withBackend, _, _ := newTestApp(t, nil)
	assert.NotNil(t, withBackend.stream)

	withoutBackend, _, _ := newTestApp(t, func(cfg *config.Config) { cfg.BackendURL = "" })
	assert.Nil(t, withoutBackend.stream)
}

func TestHandleOperationHealth(t *testing.T) {
	t.Parallel()

	a, rec, _ := newTestApp(t, nil)
	ev := eventFromJSON(t, `{"operation_id":"op-health","operation":{"type":"health","trace_id":"trace-9"}}`)
	a.handleOperation(context.Background(), ev)

	env := rec.waitFor(t, "op-health")
	assert.Equal(t, "trace-9", env["__mcd_trace_id__"])
	result := env["__mcd_result__"].(map[string]interface{})
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, "snowflake", result["agent_id"])
	platform := result["platform_info"].(map[string]interface{})
	assert.Equal(t, "mcd_agent_compute_pool", platform["compute_pool"])
	assert.Equal(t, "mcd_agent_service", platform["service"])
}

func TestHandleOperationStorageRoundTrip(t *testing.T) {
	t.Parallel()

	var mount string
	a, rec, _ := newTestApp(t, func(cfg *config.Config) { mount = cfg.StageMountPath })

	write := eventFromJSON(t, `{"operation_id":"op-write","operation":{"type":"storage_write","trace_id":"t-1","key":"notes/hello.txt","obj_to_write":"hello stage"}}`)
	a.handleOperation(context.Background(), write)
	env := rec.waitFor(t, "op-write")
	assert.Equal(t, "t-1", env["__mcd_trace_id__"])
	assert.Equal(t, map[string]interface{}{}, env["__mcd_result__"])

	data, err := os.ReadFile(filepath.Join(mount, "mcd", "notes", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello stage", string(data))

	read := eventFromJSON(t, `{"operation_id":"op-read","operation":{"type":"storage_read","trace_id":"t-2","key":"notes/hello.txt","encoding":"utf-8"}}`)
	a.handleOperation(context.Background(), read)
	env = rec.waitFor(t, "op-read")
	assert.Equal(t, "t-2", env["__mcd_trace_id__"])
	assert.Equal(t, "hello stage", env["__mcd_result__"])
}

func TestHandleOperationGetLogsFromRing(t *testing.T) {
	t.Parallel()

	a, rec, ring := newTestApp(t, nil)
	ring.Add(logs.Record{Time: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), Level: slog.LevelInfo, Message: "agent booted"})
	ring.Add(logs.Record{Time: time.Date(2026, 2, 3, 4, 5, 7, 0, time.UTC), Level: slog.LevelInfo, Message: "stream connected"})

	ev := eventFromJSON(t, `{"operation_id":"op-logs","operation":{"type":"get_logs","trace_id":"t-3","limit":1}}`)
	a.handleOperation(context.Background(), ev)

	env := rec.waitFor(t, "op-logs")
	result := env["__mcd_result__"].(map[string]interface{})
	entries := result["events"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	assert.Equal(t, "stream connected", entry["message"])
	assert.Equal(t, "2026-02-03T04:05:07Z", entry["timestamp"])
}

func TestHandleOperationFetchMetrics(t *testing.T) {
	t.Parallel()

	a, rec, _ := newTestApp(t, nil)
	metricsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pool_cpu_usage 0.5\npool_memory_usage 0.25\n"))
	}))
	t.Cleanup(metricsSrv.Close)
	a.platform = metrics.NewPlatformClientURL(metricsSrv.URL)

	ev := eventFromJSON(t, `{"operation_id":"op-metrics","operation":{"type":"fetch_metrics","trace_id":"t-4"}}`)
	a.handleOperation(context.Background(), ev)

	env := rec.waitFor(t, "op-metrics")
	result := env["__mcd_result__"].(map[string]interface{})
	assert.Equal(t, []interface{}{"pool_cpu_usage 0.5", "pool_memory_usage 0.25"}, result["metrics"])
}

func TestHandleOperationErrorEnvelope(t *testing.T) {
	t.Parallel()

	a, rec, _ := newTestApp(t, nil)
	ev := eventFromJSON(t, `{"operation_id":"op-miss","operation":{"type":"storage_read","trace_id":"t-5","key":"absent/file.txt"}}`)
	a.handleOperation(context.Background(), ev)

	env := rec.waitFor(t, "op-miss")
	assert.Contains(t, env["__mcd_error__"], "not found")
	assert.NotContains(t, env, "__mcd_trace_id__")
}

func TestForwardMetricsPushesToBackend(t *testing.T) {
	t.Parallel()

	a, rec, _ := newTestApp(t, nil)
	metricsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("up 1\n"))
	}))
	t.Cleanup(metricsSrv.Close)
	a.platform = metrics.NewPlatformClientURL(metricsSrv.URL)

	n, err := a.ForwardMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	env := rec.waitFor(t, "metrics")
	assert.Equal(t, []interface{}{"up 1"}, env["metrics"])
}

func TestForwardMetricsSkipsEmptyScrape(t *testing.T) {
	t.Parallel()

	a, rec, _ := newTestApp(t, nil)
	metricsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(metricsSrv.Close)
	a.platform = metrics.NewPlatformClientURL(metricsSrv.URL)

	n, err := a.ForwardMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, pushed := rec.result("metrics")
	assert.False(t, pushed)
}

func TestHealthReportEchoesTraceID(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, nil)

	report := a.HealthReport(context.Background(), "trace-7")
	assert.Equal(t, "ok", report["status"])
	assert.Equal(t, "trace-7", report["trace_id"])

	report = a.HealthReport(context.Background(), "")
	assert.NotContains(t, report, "trace_id")
}

func TestMetricsHandlerServesAgentMetrics(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, nil)
	a.Collector.OperationReceived()

	rr := httptest.NewRecorder()
	a.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "mcd_agent_operations_received_total 1")
}

func TestTokenProviderSelection(t *testing.T) {
	t.Parallel()

	oauthCfg := &config.Config{Snowflake: config.SnowflakeConfig{TokenFile: "/snowflake/session/token"}}
	provider, err := tokenProvider(oauthCfg)
	require.NoError(t, err)
	_, ok := provider.(*snowflake.OAuthFileProvider)
	assert.True(t, ok)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "rsa_key.p8")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	keypairCfg := &config.Config{Snowflake: config.SnowflakeConfig{
		Account:        "myorg-acct",
		User:           "agent_user",
		PrivateKeyPath: keyPath,
	}}
	provider, err = tokenProvider(keypairCfg)
	require.NoError(t, err)
	_, ok = provider.(*snowflake.KeyPairProvider)
	assert.True(t, ok)
}

func TestLogFetchLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 25, logFetchLimit(json.RawMessage(`{"type":"get_logs","limit":25}`)))
	assert.Equal(t, 0, logFetchLimit(json.RawMessage(`{"type":"get_logs"}`)))
	assert.Equal(t, 0, logFetchLimit(nil))
	assert.Equal(t, 0, logFetchLimit(json.RawMessage(`{"limit":"many"}`)))
}
