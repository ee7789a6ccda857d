// Package lifecycle converges the host-account resources the agent runs
// on: the compute pool, the warehouse, and the container service. Every
// statement it issues is idempotent, so installer procedures can be re-run
// against a live deployment without duplicating objects.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"snowbridge/internal/config"
	"snowbridge/internal/db/repository"
	"snowbridge/internal/domain"
	"snowbridge/internal/snowflake"
)

const (
	// ContainerName is the agent container within the service; the log
	// fetch addresses it.
	ContainerName = "agent"

	// IntentResume journals a resume owed after a suspend. Restart records
	// it before suspending so a crash between the two steps can be
	// finished later.
	IntentResume = "resume_service"

	probePath       = "/healthcheck"
	defaultLogLimit = 1000

	resumeAttempts     = 5
	resumeInitialDelay = 2 * time.Second
)

// Sizing defaults for StartAppParams fields left zero.
const (
	defaultInstanceFamily    = "CPU_X64_XS"
	defaultWarehouseSize     = "XSMALL"
	defaultWarehouseAutoSusp = 60
)

// Querier runs an app-scoped statement against the host account.
type Querier interface {
	Query(ctx context.Context, statement string, binds ...interface{}) ([][]interface{}, error)
}

var _ Querier = (*snowflake.Gateway)(nil)

// Controller drives the service lifecycle. It is safe for concurrent use;
// the statements themselves are the synchronization point, since the
// platform serializes DDL per object.
type Controller struct {
	db      Querier
	intents *repository.IntentRepo
	cfg     *config.Config
	names   config.Names
	log     *slog.Logger

	resumeDelay time.Duration
}

// NewController creates a Controller over the given querier. The intent
// repo journals restarts that must survive a process crash.
func NewController(db Querier, intents *repository.IntentRepo, cfg *config.Config, log *slog.Logger) *Controller {
	return &Controller{
		db:          db,
		intents:     intents,
		cfg:         cfg,
		names:       config.DeriveNames(cfg.AppDatabase),
		log:         log,
		resumeDelay: resumeInitialDelay,
	}
}

func applyStartDefaults(params *domain.StartAppParams) {
	if params.MinNodes <= 0 {
		params.MinNodes = 1
	}
	if params.MaxNodes <= 0 {
		params.MaxNodes = params.MinNodes
	}
	if params.InstanceFamily == "" {
		params.InstanceFamily = defaultInstanceFamily
	}
	if params.WarehouseSize == "" {
		params.WarehouseSize = defaultWarehouseSize
	}
	if params.WarehouseAutoSusp <= 0 {
		params.WarehouseAutoSusp = defaultWarehouseAutoSusp
	}
}

// StartApp converges the compute pool, warehouse, and service to the
// requested sizing and resumes the service. Running it twice leaves exactly
// one of each object: creates are IF NOT EXISTS and the follow-up alters
// resize whatever already existed.
func (c *Controller) StartApp(ctx context.Context, params domain.StartAppParams) error {
	applyStartDefaults(&params)

	specYAML, err := DefaultServiceSpec(c.cfg, c.names).Render()
	if err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf(
			"CREATE COMPUTE POOL IF NOT EXISTS %s MIN_NODES = %d MAX_NODES = %d INSTANCE_FAMILY = %s AUTO_RESUME = TRUE",
			c.names.ComputePool, params.MinNodes, params.MaxNodes, params.InstanceFamily),
		fmt.Sprintf(
			"ALTER COMPUTE POOL IF EXISTS %s SET MIN_NODES = %d MAX_NODES = %d",
			c.names.ComputePool, params.MinNodes, params.MaxNodes),
		fmt.Sprintf(
			"CREATE WAREHOUSE IF NOT EXISTS %s WAREHOUSE_SIZE = %s AUTO_SUSPEND = %d AUTO_RESUME = TRUE INITIALLY_SUSPENDED = TRUE",
			c.names.Warehouse, params.WarehouseSize, params.WarehouseAutoSusp),
		fmt.Sprintf(
			"ALTER WAREHOUSE IF EXISTS %s SET WAREHOUSE_SIZE = %s AUTO_SUSPEND = %d",
			c.names.Warehouse, params.WarehouseSize, params.WarehouseAutoSusp),
		fmt.Sprintf(
			"CREATE SERVICE IF NOT EXISTS %s IN COMPUTE POOL %s FROM SPECIFICATION $$\n%s$$ QUERY_WAREHOUSE = %s EXTERNAL_ACCESS_INTEGRATIONS = (%s)",
			c.names.Service, c.names.ComputePool, specYAML, c.names.Warehouse, c.names.EAIName),
		fmt.Sprintf("ALTER SERVICE IF EXISTS %s RESUME", c.names.Service),
	}

	for _, stmt := range statements {
		if _, err := c.db.Query(ctx, stmt); err != nil {
			return fmt.Errorf("start app: %w", err)
		}
	}
	c.log.Info("service deployment converged",
		"service", c.names.Service,
		"compute_pool", c.names.ComputePool,
		"min_nodes", params.MinNodes,
		"max_nodes", params.MaxNodes,
	)
	return nil
}

// Suspend suspends the service. Queries stop being consumed until resume;
// the compute pool drains on its own auto-suspend.
func (c *Controller) Suspend(ctx context.Context) error {
	if _, err := c.db.Query(ctx, fmt.Sprintf("ALTER SERVICE IF EXISTS %s SUSPEND", c.names.Service)); err != nil {
		return fmt.Errorf("suspend service: %w", err)
	}
	return nil
}

// Resume resumes a suspended service.
func (c *Controller) Resume(ctx context.Context) error {
	if _, err := c.db.Query(ctx, fmt.Sprintf("ALTER SERVICE IF EXISTS %s RESUME", c.names.Service)); err != nil {
		return fmt.Errorf("resume service: %w", err)
	}
	return nil
}

// Restart bounces the service so the container comes back with fresh state,
// e.g. after a credential rotation. The resume is journaled before the
// suspend: if the process dies between the two steps, RetryPendingResume
// finishes the restart instead of leaving the service suspended forever.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.intents.Record(ctx, IntentResume); err != nil {
		return fmt.Errorf("journal resume intent: %w", err)
	}
	if err := c.Suspend(ctx); err != nil {
		// Nothing was suspended, so no resume is owed.
		if clearErr := c.intents.Clear(ctx, IntentResume); clearErr != nil {
			c.log.Warn("clear resume intent", "error", clearErr)
		}
		return err
	}
	if err := c.resumeWithRetry(ctx); err != nil {
		// The journal entry stays; the maintenance sweep keeps retrying.
		return fmt.Errorf("service suspended, resume still pending: %w", err)
	}
	c.log.Info("service restart complete", "service", c.names.Service)
	return c.intents.Clear(ctx, IntentResume)
}

func (c *Controller) resumeWithRetry(ctx context.Context) error {
	return retry.Call(retry.CallArgs{
		Func: func() error { return c.Resume(ctx) },
		NotifyFunc: func(err error, attempt int) {
			c.log.Warn("service resume failed", "attempt", attempt, "error", err)
		},
		Attempts:    resumeAttempts,
		Delay:       c.resumeDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
}

// RetryPendingResume finishes a restart that died between its suspend and
// resume. The maintenance scheduler calls this periodically; without a
// journaled intent it does nothing.
func (c *Controller) RetryPendingResume(ctx context.Context) error {
	pending, err := c.intents.Pending(ctx)
	if err != nil {
		return err
	}
	for _, intent := range pending {
		if intent.Name != IntentResume {
			continue
		}
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if status.State == domain.ServiceStateSuspended {
			if err := c.Resume(ctx); err != nil {
				return fmt.Errorf("pending resume: %w", err)
			}
			c.log.Info("journaled service resume completed", "requested_at", intent.RequestedAt)
		}
		return c.intents.Clear(ctx, IntentResume)
	}
	return nil
}

// platformStatus is the per-container shape SYSTEM$GET_SERVICE_STATUS
// returns.
type platformStatus struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	ContainerName string `json:"containerName"`
	InstanceID    string `json:"instanceId"`
	RestartCount  int    `json:"restartCount"`
	StartTime     string `json:"startTime"`
}

// Status reports the service's container status. A service that has never
// been created maps to the ABSENT state rather than an error.
func (c *Controller) Status(ctx context.Context) (domain.ServiceStatus, error) {
	rows, err := c.db.Query(ctx, fmt.Sprintf("SELECT SYSTEM$GET_SERVICE_STATUS('%s')", c.names.Service))
	if err != nil {
		if snowflake.IsNotFound(err) {
			return domain.ServiceStatus{State: domain.ServiceStateAbsent}, nil
		}
		return domain.ServiceStatus{}, fmt.Errorf("service status: %w", err)
	}
	return parseServiceStatus(rows)
}

func parseServiceStatus(rows [][]interface{}) (domain.ServiceStatus, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return domain.ServiceStatus{State: domain.ServiceStateUnknown}, nil
	}
	raw, ok := rows[0][0].(string)
	if !ok {
		return domain.ServiceStatus{}, fmt.Errorf("unexpected service status cell %T", rows[0][0])
	}
	var containers []platformStatus
	if err := json.Unmarshal([]byte(raw), &containers); err != nil {
		return domain.ServiceStatus{}, fmt.Errorf("parse service status: %w", err)
	}
	if len(containers) == 0 {
		return domain.ServiceStatus{State: domain.ServiceStateUnknown}, nil
	}

	first := containers[0]
	state := domain.ServiceState(strings.ToUpper(first.Status))
	switch state {
	case domain.ServiceStatePending, domain.ServiceStateReady, domain.ServiceStateRunning,
		domain.ServiceStateSuspended, domain.ServiceStateFailed:
	default:
		state = domain.ServiceStateUnknown
	}
	return domain.ServiceStatus{
		ContainerName: first.ContainerName,
		InstanceID:    first.InstanceID,
		State:         state,
		Message:       first.Message,
		RestartCount:  first.RestartCount,
		StartTime:     first.StartTime,
	}, nil
}

// ServiceLogs fetches the trailing container log and parses it into
// structured lines. Readiness probe hits are dropped so the tail is not
// wall-to-wall health checks.
func (c *Controller) ServiceLogs(ctx context.Context, limit int) ([]domain.LogLine, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	stmt := fmt.Sprintf("SELECT SYSTEM$GET_SERVICE_LOGS('%s', '0', '%s', %d)",
		c.names.Service, ContainerName, limit)
	rows, err := c.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("fetch service logs: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, nil
	}
	raw, _ := rows[0][0].(string)

	var lines []domain.LogLine
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" || strings.Contains(line, probePath) {
			continue
		}
		lines = append(lines, parseLogLine(line))
	}
	return lines, nil
}

// parseLogLine splits "[timestamp] message"; anything else is carried whole
// with a zero timestamp.
func parseLogLine(line string) domain.LogLine {
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "] "); end > 0 {
			if ts, err := time.Parse(time.RFC3339Nano, line[1:end]); err == nil {
				return domain.LogLine{Timestamp: ts, Message: line[end+2:]}
			}
		}
	}
	return domain.LogLine{Message: line}
}

// ExecuteQuery runs a statement through the app's own execute_query
// procedure, under the application role. This is the admin escape hatch;
// inbound operations never reach it.
func (c *Controller) ExecuteQuery(ctx context.Context, query string) ([][]interface{}, error) {
	return c.db.Query(ctx, fmt.Sprintf("CALL %s.execute_query(?)", c.names.CallbackSchema), query)
}
