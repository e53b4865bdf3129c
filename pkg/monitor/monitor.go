// Package monitor polls worker health for in-progress runs and reports
// the observed outcome back into the run instance.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quatton/qlaunch/pkg/kv"
	"github.com/quatton/qlaunch/pkg/launcher"
	"github.com/quatton/qlaunch/pkg/metrics"
	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/quatton/qlaunch/pkg/qlog"
	"github.com/quatton/qlaunch/pkg/runs"
	"golang.org/x/sync/errgroup"
)

// LeaseKey is the kv key daemons contend for before monitoring.
const LeaseKey = "qlaunch:monitor:lease"

const (
	DefaultInterval    = 30 * time.Second
	DefaultConcurrency = 8
)

// Statuses are the run statuses the monitor checks.
var Statuses = []runs.Status{runs.StatusStarting, runs.StatusRunning, runs.StatusCanceling}

// Instance is the part of the run instance the monitor reads and reports into.
type Instance interface {
	ListRuns(ctx context.Context, filter runs.Filter) ([]*runs.Run, error)
	ReportRunTransition(ctx context.Context, runID string, from, status runs.Status, message string) error
}

// HealthChecker reports a run's worker health.
type HealthChecker interface {
	CheckRunWorkerHealth(ctx context.Context, run *runs.Run) launcher.CheckRunHealthResult
}

type Monitor struct {
	instance    Instance
	checker     HealthChecker
	lease       *kv.Lease
	interval    time.Duration
	concurrency int
	log         *qlog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval sets the time between cycles.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithConcurrency bounds concurrent health checks per cycle.
func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithLease makes each cycle run only while the lease is held.
func WithLease(l *kv.Lease) Option {
	return func(m *Monitor) {
		m.lease = l
	}
}

// WithLogger sets the logger.
func WithLogger(log *qlog.Logger) Option {
	return func(m *Monitor) {
		m.log = log
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

func New(instance Instance, checker HealthChecker, opts ...Option) *Monitor {
	m := &Monitor{
		instance:    instance,
		checker:     checker,
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
		log:         qlog.NewDefault(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "monitor")
	return m
}

// Run checks runs every interval until ctx is done. Cycle errors are
// logged and do not stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started", "interval", m.interval.String(), "concurrency", m.concurrency)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			m.log.Error("monitor cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			if m.lease != nil {
				// the parent context is gone; release with a short one of our own
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if err := m.lease.Release(releaseCtx); err != nil {
					m.log.Warn("failed to release monitor lease", "error", err)
				}
				cancel()
			}
			m.log.Info("monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cycle. It is a no-op when another daemon
// holds the lease.
func (m *Monitor) RunOnce(ctx context.Context) error {
	if m.lease != nil {
		held, err := m.lease.Acquire(ctx)
		if err != nil {
			m.metrics.ObserveMonitorCycle("error")
			return err
		}
		if !held {
			m.log.Debug("monitor lease held elsewhere, skipping cycle")
			m.metrics.ObserveMonitorCycle("skipped")
			return nil
		}
	}

	inProgress, err := m.instance.ListRuns(ctx, runs.Filter{Statuses: Statuses})
	if err != nil {
		m.metrics.ObserveMonitorCycle("error")
		return fmt.Errorf("listing in-progress runs: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	errs := make([]error, len(inProgress))
	for i, run := range inProgress {
		g.Go(func() error {
			errs[i] = m.checkRun(ctx, run)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		m.metrics.ObserveMonitorCycle("error")
		return err
	}
	m.metrics.ObserveMonitorCycle("ran")
	return nil
}

// checkRun reports the worker outcome against the status listed at the
// start of the cycle. A run that moved on since, for example one a
// terminate request canceled, is left alone.
func (m *Monitor) checkRun(ctx context.Context, run *runs.Run) error {
	result := m.checker.CheckRunWorkerHealth(ctx, run)
	log := m.log.With("run_id", run.ID, "status", string(run.Status), "worker", string(result.Status))

	var (
		next    runs.Status
		message string
	)
	switch result.Status {
	case launcher.WorkerStatusRunning:
		if run.Status != runs.StatusStarting {
			return nil
		}
		next, message = runs.StatusRunning, "Cloud Run execution is running."
	case launcher.WorkerStatusSuccess:
		if run.Status == runs.StatusCanceling {
			next, message = runs.StatusCanceled, "Execution finished while canceling."
		} else {
			next, message = runs.StatusSuccess, "Cloud Run execution succeeded."
		}
	case launcher.WorkerStatusFailed:
		if run.Status == runs.StatusCanceling {
			next, message = runs.StatusCanceled, "Execution stopped while canceling."
		} else {
			next, message = runs.StatusFailed, fmt.Sprintf("Run worker failed: %s", result.Message)
		}
	default:
		log.Debug("worker health unknown", "message", result.Message)
		return nil
	}

	err := m.instance.ReportRunTransition(ctx, run.ID, run.Status, next, message)
	if qerr.IsCode(err, qerr.CodeInvalidState) {
		log.Debug("run status changed during check, skipping", "error", err)
		return nil
	}
	if err != nil {
		log.Error("failed to report worker health", "error", err)
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	return nil
}
