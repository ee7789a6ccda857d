// Package server exposes the agent's HTTP surface: the readiness probe, the
// warehouse callback functions, the troubleshooting endpoints called through
// Snowflake external functions, and the prometheus exposition.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"snowbridge/internal/backend"
	"snowbridge/internal/config"
	"snowbridge/internal/dispatch"
	"snowbridge/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

// Callbacks settles operations from the warehouse callback functions. The
// bool reports whether the callback won the settle; a lost callback is
// answered as ignored, never as an error.
type Callbacks interface {
	HandleCompleted(ctx context.Context, opID, queryID string) (bool, error)
	HandleFailed(ctx context.Context, opID string, code int, message, sqlState string) (bool, error)
}

// Pinger reports orchestrator reachability.
type Pinger interface {
	Ping(ctx context.Context, traceID string) (map[string]interface{}, error)
}

// MetricsForwarder scrapes the platform metrics endpoint and pushes the
// lines to the orchestrator, returning the number of lines pushed.
type MetricsForwarder interface {
	ForwardMetrics(ctx context.Context) (int, error)
}

// HealthSource assembles the agent health report.
type HealthSource interface {
	HealthReport(ctx context.Context, traceID string) map[string]interface{}
}

var (
	_ Callbacks = (*dispatch.Dispatcher)(nil)
	_ Pinger    = (*backend.Client)(nil)
)

// Server is the agent HTTP server.
type Server struct {
	cfg       *config.Config
	callbacks Callbacks
	pinger    Pinger
	forwarder MetricsForwarder
	health    HealthSource
	exporter  http.Handler
	limiter   *middleware.RateLimiter
	log       *slog.Logger
}

// New builds the server. exporter serves the agent's own prometheus
// metrics; pass nil to disable the /metrics route.
func New(
	cfg *config.Config,
	callbacks Callbacks,
	pinger Pinger,
	forwarder MetricsForwarder,
	health HealthSource,
	exporter http.Handler,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		callbacks: callbacks,
		pinger:    pinger,
		forwarder: forwarder,
		health:    health,
		exporter:  exporter,
		limiter:   middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		log:       log,
	}
}

// Routes assembles the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.log))
	r.Use(middleware.Recoverer(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Agent-Token"},
		MaxAge:         300,
	}))

	r.Get("/healthcheck", s.handleHealthcheck)
	if s.exporter != nil {
		r.Method(http.MethodGet, "/metrics", s.exporter)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Probe compat path used by older service specs. It stays outside
		// the auth group so a configured token can never fail readiness.
		r.Get("/test/healthcheck", s.handleHealthcheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(s.cfg.AgentToken))
			r.Use(s.limiter.Middleware)

			r.Post("/test/health", s.handleHealthRow)
			r.Get("/test/health", s.handleHealthJSON)
			r.Post("/test/reachability", s.handleReachability)
			r.Post("/test/metrics", s.handleMetricsPush)
			r.Post("/agent/execute/snowflake/query_completed", s.handleQueryCompleted)
			r.Post("/agent/execute/snowflake/query_failed", s.handleQueryFailed)
		})
	})

	return r
}

// Run serves until ctx is canceled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr(),
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("http server listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
