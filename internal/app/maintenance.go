package app

import (
	"context"
	"fmt"
	"time"
)

// Maintenance cadence. The outbox flushes often so failed pushes retry
// quickly; sweeps and refreshes run at the pace their data changes.
const (
	outboxFlushSpec   = "@every 15s"
	timeoutSweepSpec  = "@every 30s"
	pendingResumeSpec = "@every 1m"
	configRefreshSpec = "@every 5m"
	prunePassSpec     = "@every 1h"

	pruneRetention = 24 * time.Hour
)

func (a *App) scheduleMaintenance() error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context)
	}{
		{outboxFlushSpec, "outbox_flush", a.flushOutbox},
		{timeoutSweepSpec, "timeout_sweep", a.sweepTimeouts},
		{pendingResumeSpec, "pending_resume", a.retryPendingResume},
		{configRefreshSpec, "config_refresh", a.refreshSettings},
		{prunePassSpec, "ledger_prune", a.pruneLedger},
	}
	for _, job := range jobs {
		run := job.run
		if _, err := a.cron.AddFunc(job.spec, func() { run(context.Background()) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	return nil
}

func (a *App) flushOutbox(ctx context.Context) {
	if _, err := a.Dispatcher.FlushOutbox(ctx); err != nil {
		a.log.Warn("outbox flush failed", "error", err)
	}
}

// sweepTimeouts times out overdue operations and samples the queue depth
// gauges while it is at it.
func (a *App) sweepTimeouts(ctx context.Context) {
	if _, err := a.Dispatcher.SweepTimeouts(ctx); err != nil {
		a.log.Warn("timeout sweep failed", "error", err)
	}
	inFlight, outboxPending, err := a.Dispatcher.QueueDepths(ctx)
	if err != nil {
		a.log.Warn("queue depth sample failed", "error", err)
		return
	}
	a.Collector.SetQueueDepths(inFlight, outboxPending)
}

func (a *App) retryPendingResume(ctx context.Context) {
	if err := a.Lifecycle.RetryPendingResume(ctx); err != nil {
		a.log.Warn("pending service resume not finished", "error", err)
	}
}

func (a *App) refreshSettings(ctx context.Context) {
	if err := a.Settings.Refresh(ctx); err != nil {
		a.log.Warn("dynamic configuration refresh failed", "error", err)
	}
}

func (a *App) pruneLedger(ctx context.Context) {
	if err := a.Dispatcher.Prune(ctx, pruneRetention); err != nil {
		a.log.Warn("ledger prune failed", "error", err)
	}
}
