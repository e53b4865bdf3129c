package services

import (
	"context"

	"github.com/quatton/qlaunch/pkg/launcher"
	"github.com/quatton/qlaunch/pkg/runs"
)

// HealthChecker reports the worker health of a launched run.
type HealthChecker interface {
	CheckRunWorkerHealth(ctx context.Context, run *runs.Run) launcher.CheckRunHealthResult
}

// Pinger is satisfied by *bun.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Services struct {
	Runs      *runs.Instance
	Health    HealthChecker
	Workspace runs.Workspace
	DB        Pinger
}

// NewServices wires the launcher into the instance so launch and terminate
// requests reach Cloud Run.
func NewServices(instance *runs.Instance, l *launcher.Launcher, ws runs.Workspace, database Pinger) *Services {
	instance.SetRunLauncher(l)
	return &Services{
		Runs:      instance,
		Health:    l,
		Workspace: ws,
		DB:        database,
	}
}
