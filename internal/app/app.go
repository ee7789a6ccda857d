// Package app wires the agent together: warehouse gateway, dispatcher,
// event stream, storage, lifecycle controller, and the maintenance cron.
// main() provides the external handles; everything else is built here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"snowbridge/internal/backend"
	"snowbridge/internal/config"
	"snowbridge/internal/db/repository"
	"snowbridge/internal/dispatch"
	"snowbridge/internal/domain"
	"snowbridge/internal/events"
	"snowbridge/internal/lifecycle"
	"snowbridge/internal/logs"
	"snowbridge/internal/metrics"
	"snowbridge/internal/results"
	"snowbridge/internal/runner"
	"snowbridge/internal/snowflake"
	"snowbridge/internal/storage"
)

// opsQueueDepth bounds the non-query operation queue. Diagnostics and
// storage operations are rare; a small buffer is plenty.
const opsQueueDepth = 64

// Deps holds the external dependencies that main() must provide: the
// process configuration, the SQLite ledger pool, the log ring the slog
// handler tees into, and the logger itself.
type Deps struct {
	Cfg      *config.Config
	LedgerDB *sql.DB
	Ring     *logs.Ring
	Logger   *slog.Logger
}

// App is the fully wired agent. The exported fields are the surfaces the
// HTTP server and the troubleshooting operations reach into.
type App struct {
	Settings   *config.Manager
	Gateway    *snowflake.Gateway
	Backend    *backend.Client
	Dispatcher *dispatch.Dispatcher
	Collector  *metrics.Collector
	Lifecycle  *lifecycle.Controller
	Logs       *logs.Service
	Storage    *storage.Service

	cfg      *config.Config
	names    config.Names
	registry *prometheus.Registry
	platform *metrics.PlatformClient
	creds    *backend.FileCredentials
	acks     *events.AckScheduler
	ops      *runner.Processor[domain.Event]
	router   *events.Router
	stream   *events.Client
	cron     *cron.Cron
	log      *slog.Logger
	started  time.Time
}

// New wires the agent from the provided deps. The context bounds the
// initial dynamic configuration load; a failed load is downgraded to a
// warning so the agent still boots on defaults.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	log := deps.Logger
	names := config.DeriveNames(cfg.AppDatabase)

	tokens, err := tokenProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("token provider: %w", err)
	}
	sfOpts := snowflake.Options{
		Host:      cfg.Snowflake.Host,
		Account:   cfg.Snowflake.Account,
		Database:  cfg.Snowflake.Database,
		Warehouse: cfg.Snowflake.Warehouse,
		Role:      cfg.Snowflake.Role,
	}
	if sfOpts.Host == "" && sfOpts.Account == "" {
		// Boot must succeed before the platform injects SNOWFLAKE_HOST;
		// warehouse calls fail until it shows up.
		sfOpts.Host = "localhost"
	}
	sfClient, err := snowflake.NewClient(sfOpts, tokens, nil, log)
	if err != nil {
		return nil, fmt.Errorf("snowflake client: %w", err)
	}
	gateway := snowflake.NewGateway(sfClient, names, log)

	var store config.Store
	if cfg.UseDBConfig {
		store = config.NewDBStore(gateway, cfg.ConfigTable)
	} else {
		store = config.NewEnvStore()
	}
	settings := config.NewManager(store, names)
	if err := settings.Refresh(ctx); err != nil {
		log.Warn("dynamic configuration not loaded, using defaults", "error", err)
	}

	creds := backend.NewFileCredentials(cfg.CredsFile, cfg.IsLocal())
	backendClient := backend.NewClient(cfg.BackendURL, cfg.AgentID, creds, &backend.Options{Logger: log})

	operations := repository.NewOperationRepo(deps.LedgerDB)
	outbox := repository.NewOutboxRepo(deps.LedgerDB)
	intents := repository.NewIntentRepo(deps.LedgerDB)

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	storeClient, err := storage.New(ctx, cfg, settings, gateway)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	offloader := results.NewOffloader(storeClient, settings, log)

	acks := events.NewAckScheduler(countedAcks{sink: backendClient, collector: collector}, 0, 0, log)
	dispatcher := dispatch.NewDispatcher(
		metrics.NewInstrumentedGateway(gateway, collector),
		ackingSink{sink: backendClient, acks: acks, collector: collector},
		operations,
		outbox,
		offloader,
		settings,
		log,
	)

	a := &App{
		Settings:   settings,
		Gateway:    gateway,
		Backend:    backendClient,
		Dispatcher: dispatcher,
		Collector:  collector,
		Lifecycle:  lifecycle.NewController(gateway, intents, cfg, log),
		Logs:       logs.NewService(gateway, deps.Ring, cfg.IsLocal()),
		Storage:    storage.NewService(storeClient),
		cfg:        cfg,
		names:      names,
		registry:   registry,
		platform:   metrics.NewPlatformClient(names.ComputePool),
		creds:      creds,
		acks:       acks,
		cron:       cron.New(),
		log:        log,
		started:    time.Now(),
	}
	a.ops = runner.New("operations", settings.OperationWorkers(), opsQueueDepth, a.handleOperation, log)
	a.router = events.NewRouter(dispatcher, backendClient, a.ops, acks, log)
	if cfg.BackendURL != "" {
		a.stream = events.NewClient(a.receiverFactory(), a.handleStreamEvent, &events.ClientOptions{Logger: log})
	} else {
		log.Warn("no backend url configured, event stream disabled")
	}
	if err := a.scheduleMaintenance(); err != nil {
		return nil, err
	}
	return a, nil
}

// Start launches the worker pools, the event stream, and the maintenance
// cron. The context bounds every background loop.
func (a *App) Start(ctx context.Context) {
	a.Dispatcher.Start(ctx)
	a.ops.Start(ctx)
	a.acks.Start(ctx)
	if a.stream != nil {
		a.stream.Start(ctx)
	}
	a.cron.Start()
	a.log.Info("agent started",
		"agent_id", a.cfg.AgentID,
		"database", a.cfg.AppDatabase,
		"transport", a.cfg.EventsTransport,
		"storage", a.cfg.StorageProvider)
}

// Stop shuts the agent down in reverse start order. Queued work drains
// before the pools exit.
func (a *App) Stop() {
	<-a.cron.Stop().Done()
	if a.stream != nil {
		a.stream.Stop()
	}
	a.acks.Stop()
	a.ops.Stop()
	a.Dispatcher.Stop()
	a.log.Info("agent stopped")
}

// tokenProvider picks the auth scheme: keypair when configured, otherwise
// the platform-mounted OAuth token file.
func tokenProvider(cfg *config.Config) (snowflake.TokenProvider, error) {
	if cfg.Snowflake.KeypairConfigured() {
		return snowflake.NewKeyPairProvider(
			cfg.Snowflake.Account,
			cfg.Snowflake.User,
			cfg.Snowflake.PrivateKeyPath,
			cfg.Snowflake.PrivateKeyPassphrase,
		)
	}
	return snowflake.NewOAuthFileProvider(cfg.Snowflake.TokenFile), nil
}
