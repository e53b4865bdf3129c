package launcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/quatton/qlaunch/pkg/cloudrun"
	"github.com/quatton/qlaunch/pkg/qerr"
)

const (
	OverrideProjectID = "project_id"
	OverrideRegion    = "region"
)

// jobTarget is the resolved Cloud Run job for a code location.
type jobTarget struct {
	Project string
	Region  string
	Job     string
	Env     map[string]string
}

func (t jobTarget) Name() string {
	return cloudrun.JobName(t.Project, t.Region, t.Job)
}

// resolveValue resolves a value source. Literal wins over secret, secret
// over env; config validation guarantees only one is set.
func (l *Launcher) resolveValue(ctx context.Context, src ValueSource) (string, error) {
	switch {
	case src.Literal != "":
		return src.Literal, nil
	case src.SecretName != "":
		if l.secrets == nil {
			return "", qerr.Newf(qerr.CodeConfig, "secret %q referenced but no secret resolver is configured", src.SecretName)
		}
		v, err := l.secrets.ResolveSecret(ctx, src.SecretName)
		if err != nil {
			return "", qerr.New(qerr.CodeConfig, fmt.Errorf("resolving secret %q: %w", src.SecretName, err))
		}
		return v, nil
	case src.Env != "":
		v, ok := l.lookupEnv(src.Env)
		if !ok {
			return "", qerr.Newf(qerr.CodeConfig, "environment variable %q is not set", src.Env)
		}
		return v, nil
	}
	return "", qerr.Newf(qerr.CodeConfig, "empty value source")
}

// EnvOverrideForCodeLocation returns the resolved project_id and region
// overrides for a code location. It returns nil when the location has no
// entry or its entry is a bare job name. Keys are present only for the
// overrides the entry sets.
func (l *Launcher) EnvOverrideForCodeLocation(ctx context.Context, codeLocation string) (map[string]string, error) {
	job, ok := l.cfg.JobConfigFor(codeLocation)
	if !ok || !job.HasOverrides() {
		return nil, nil
	}

	overrides := make(map[string]string, 2)
	if job.ProjectID != nil {
		v, err := l.resolveValue(ctx, *job.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("code location %q project_id: %w", codeLocation, err)
		}
		overrides[OverrideProjectID] = v
	}
	if job.Region != nil {
		v, err := l.resolveValue(ctx, *job.Region)
		if err != nil {
			return nil, fmt.Errorf("code location %q region: %w", codeLocation, err)
		}
		overrides[OverrideRegion] = v
	}
	return overrides, nil
}

// resolveTarget resolves the job for a code location, falling back to the
// default project, region and job name.
func (l *Launcher) resolveTarget(ctx context.Context, codeLocation string) (jobTarget, error) {
	target := jobTarget{
		Project: l.cfg.Project,
		Region:  l.cfg.Region,
		Job:     l.cfg.JobName,
	}

	if job, ok := l.cfg.JobConfigFor(codeLocation); ok {
		if job.Name != "" {
			target.Job = job.Name
		}
		overrides, err := l.EnvOverrideForCodeLocation(ctx, codeLocation)
		if err != nil {
			return jobTarget{}, err
		}
		if v, ok := overrides[OverrideProjectID]; ok {
			target.Project = v
		}
		if v, ok := overrides[OverrideRegion]; ok {
			target.Region = v
		}
		if len(job.Env) > 0 {
			target.Env, err = l.resolveEnv(ctx, job.Env)
			if err != nil {
				return jobTarget{}, fmt.Errorf("code location %q env: %w", codeLocation, err)
			}
		}
	}

	if target.Project == "" || target.Region == "" || target.Job == "" {
		return jobTarget{}, qerr.Newf(qerr.CodeConfig,
			"incomplete job for code location %q: project=%q region=%q job=%q",
			codeLocation, target.Project, target.Region, target.Job)
	}
	return target, nil
}

// resolveEnv resolves env value sources. Map keys arrive lowercased from the
// config loader and are upper-cased; a Name from the list form is kept as is.
func (l *Launcher) resolveEnv(ctx context.Context, env map[string]ValueSource) (map[string]string, error) {
	resolved := make(map[string]string, len(env))
	for key, src := range env {
		name := src.Name
		if name == "" {
			name = strings.ToUpper(key)
		}
		v, err := l.resolveValue(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		resolved[name] = v
	}
	return resolved, nil
}
