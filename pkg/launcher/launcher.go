// Package launcher runs orchestrator runs as Google Cloud Run job
// executions. It records the execution id on the run, answers worker
// health checks from the execution state and cancels executions on
// termination.
package launcher

import (
	"context"
	"os"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/quatton/qlaunch/pkg/cloudrun"
	"github.com/quatton/qlaunch/pkg/metrics"
	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/quatton/qlaunch/pkg/qlog"
	"github.com/quatton/qlaunch/pkg/runs"
	"github.com/quatton/qlaunch/pkg/secrets"
	"github.com/quatton/qlaunch/pkg/tracing"
	"go.opentelemetry.io/otel/trace"
)

// ExecutionIDTag is the run tag holding the Cloud Run execution id.
const ExecutionIDTag = "cloud_run_job_execution_id"

const (
	EnvRunID        = "QLAUNCH_RUN_ID"
	EnvCodeLocation = "QLAUNCH_CODE_LOCATION"
)

// Instance is the part of the orchestrator the launcher reports into.
type Instance interface {
	GetRun(ctx context.Context, runID string) (*runs.Run, error)
	AddRunTags(ctx context.Context, runID string, tags map[string]string) error
	ReportEngineEvent(ctx context.Context, runID, message string) error
	ReportRunCanceling(ctx context.Context, runID, message string) error
	ReportRunCanceled(ctx context.Context, runID, message string) error
}

// Launcher launches runs as Cloud Run job executions.
type Launcher struct {
	cfg        *Config
	instance   Instance
	jobs       cloudrun.JobsAPI
	executions cloudrun.ExecutionsAPI
	secrets    secrets.Resolver
	lookupEnv  func(string) (string, bool)
	log        *qlog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	retryOpts  []gax.CallOption
}

// Option configures a Launcher
type Option func(*Launcher)

// WithClients sets the Cloud Run clients.
func WithClients(jobs cloudrun.JobsAPI, executions cloudrun.ExecutionsAPI) Option {
	return func(l *Launcher) {
		l.jobs = jobs
		l.executions = executions
	}
}

// WithSecretResolver sets the resolver used for secret_name references.
func WithSecretResolver(r secrets.Resolver) Option {
	return func(l *Launcher) {
		l.secrets = r
	}
}

// WithEnvLookup overrides os.LookupEnv for env references.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(l *Launcher) {
		l.lookupEnv = lookup
	}
}

// WithLogger sets the logger.
func WithLogger(log *qlog.Logger) Option {
	return func(l *Launcher) {
		l.log = log
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Launcher) {
		l.metrics = m
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(l *Launcher) {
		l.tracer = t
	}
}

// New creates a Launcher. The config is validated and both Cloud Run
// clients must be provided.
func New(cfg *Config, instance Instance, opts ...Option) (*Launcher, error) {
	if cfg == nil {
		return nil, qerr.Newf(qerr.CodeConfig, "launcher config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Launcher{
		cfg:       cfg,
		instance:  instance,
		lookupEnv: os.LookupEnv,
		log:       qlog.NewDefault(),
		tracer:    tracing.Tracer("github.com/quatton/qlaunch/pkg/launcher"),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.instance == nil {
		return nil, qerr.Newf(qerr.CodeConfig, "launcher needs an instance")
	}
	if l.jobs == nil || l.executions == nil {
		return nil, qerr.Newf(qerr.CodeConfig, "launcher needs Cloud Run jobs and executions clients")
	}

	l.retryOpts = cloudrun.RetryOptions(
		time.Duration(cfg.RunJobRetry.Wait)*time.Second,
		time.Duration(cfg.RunJobRetry.Timeout)*time.Second,
	)
	l.log = l.log.With("component", "launcher")
	return l, nil
}

// Config returns the launcher config.
func (l *Launcher) Config() *Config {
	return l.cfg
}

// reportEngineEvent records an engine event, logging instead of failing
// when the event cannot be stored.
func (l *Launcher) reportEngineEvent(ctx context.Context, runID, message string) {
	if err := l.instance.ReportEngineEvent(ctx, runID, message); err != nil {
		l.log.Warn("failed to report engine event", "run_id", runID, "error", err)
	}
}
