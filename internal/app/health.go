package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version identification, stamped through -ldflags at build time.
var (
	Version = "dev"
	Build   = "local"
)

// HealthReport assembles the health document answered for the health
// operation and the troubleshooting endpoint. traceID is echoed when
// present so the orchestrator can correlate the probe.
func (a *App) HealthReport(_ context.Context, traceID string) map[string]interface{} {
	report := map[string]interface{}{
		"status":           "ok",
		"agent_id":         a.cfg.AgentID,
		"env":              a.cfg.Env,
		"version":          Version,
		"build":            Build,
		"uptime_seconds":   int(time.Since(a.started).Seconds()),
		"events_transport": a.cfg.EventsTransport,
		"storage_provider": a.cfg.StorageProvider,
		"parameters":       a.Settings.Snapshot(),
		"platform_info": map[string]interface{}{
			"database":     a.cfg.AppDatabase,
			"service":      a.names.Service,
			"compute_pool": a.names.ComputePool,
			"warehouse":    a.names.Warehouse,
		},
	}
	if traceID != "" {
		report["trace_id"] = traceID
	}
	return report
}

// ForwardMetrics scrapes the compute pool metrics endpoint and pushes the
// lines to the orchestrator. Returns the number of lines pushed.
func (a *App) ForwardMetrics(ctx context.Context) (int, error) {
	lines, err := a.platform.FetchMetrics(ctx)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}
	if err := a.Backend.PushMetrics(ctx, lines); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// MetricsHandler serves the agent's own prometheus exposition.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}
