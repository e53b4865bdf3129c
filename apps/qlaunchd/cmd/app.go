package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/quatton/qlaunch/pkg/cloudrun"
	"github.com/quatton/qlaunch/pkg/db"
	"github.com/quatton/qlaunch/pkg/kv"
	"github.com/quatton/qlaunch/pkg/launcher"
	"github.com/quatton/qlaunch/pkg/metrics"
	"github.com/quatton/qlaunch/pkg/monitor"
	"github.com/quatton/qlaunch/pkg/qapi/config"
	"github.com/quatton/qlaunch/pkg/qapi/services"
	"github.com/quatton/qlaunch/pkg/qlog"
	"github.com/quatton/qlaunch/pkg/runs"
	"github.com/uptrace/bun"
)

// app holds everything a daemon command needs, wired from the launcher
// config and the daemon environment.
type app struct {
	registry *prometheus.Registry
	db       *bun.DB
	instance *runs.Instance
	launcher *launcher.Launcher
	monitor  *monitor.Monitor
	services *services.Services
	closers  []func() error
}

func newApp(ctx context.Context, cfg *launcher.Config, env *config.EnvConfig, log *qlog.Logger) (a *app, err error) {
	a = &app{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(a.registry)

	a.db, err = db.Open(ctx, env.DBDriver, env.DBConfig(), env.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	if err := db.Migrate(ctx, a.db, log); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a.instance = runs.NewInstance(db.NewRunStore(a.db), runs.WithLogger(log))

	clients, err := cloudrun.NewClients(ctx, cloudrun.Options{Endpoint: cfg.Endpoint})
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run clients: %w", err)
	}
	a.closers = append(a.closers, clients.Close)

	resolver, closeSecrets, err := launcher.NewSecretResolver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeSecrets)

	a.launcher, err = launcher.New(cfg, a.instance,
		launcher.WithClients(clients.Jobs, clients.Executions),
		launcher.WithSecretResolver(resolver),
		launcher.WithLogger(log),
		launcher.WithMetrics(mt),
	)
	if err != nil {
		return nil, err
	}

	monitorOpts := []monitor.Option{
		monitor.WithInterval(env.MonitorInterval),
		monitor.WithConcurrency(env.MonitorConcurrency),
		monitor.WithLogger(log),
		monitor.WithMetrics(mt),
	}
	if env.ValkeyAddr != "" {
		store, err := kv.NewValkeyStore(ctx, kv.ValkeyConfig{
			Addr:     env.ValkeyAddr,
			Password: env.ValkeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		// the lease outlives one missed cycle so a slow daemon keeps it
		lease := kv.NewLease(store, monitor.LeaseKey, leaseOwner(), 2*env.MonitorInterval)
		monitorOpts = append(monitorOpts, monitor.WithLease(lease))
	}
	a.monitor = monitor.New(a.instance, a.launcher, monitorOpts...)

	a.services = services.NewServices(a.instance, a.launcher, runs.StaticWorkspace(cfg.CodeLocations), a.db)
	return a, nil
}

// Close releases clients in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "qlaunchd"
	}
	return host + "-" + uuid.NewString()
}
