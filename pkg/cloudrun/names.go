package cloudrun

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/run/apiv2/runpb"
)

// JobName builds the fully qualified job resource name.
func JobName(project, region, job string) string {
	return fmt.Sprintf("projects/%s/locations/%s/jobs/%s", project, region, job)
}

// ExecutionName builds the execution resource name under a job resource name.
func ExecutionName(jobName, executionID string) string {
	return jobName + "/executions/" + executionID
}

// ExecutionID returns the last segment of an execution resource name.
// A bare id is returned unchanged.
func ExecutionID(executionName string) string {
	if i := strings.LastIndex(executionName, "/"); i >= 0 {
		return executionName[i+1:]
	}
	return executionName
}

// EnvVars converts an env map into container env vars, sorted by name so
// requests are deterministic.
func EnvVars(env map[string]string) []*runpb.EnvVar {
	if len(env) == 0 {
		return nil
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]*runpb.EnvVar, 0, len(names))
	for _, name := range names {
		vars = append(vars, &runpb.EnvVar{
			Name:   name,
			Values: &runpb.EnvVar_Value{Value: env[name]},
		})
	}
	return vars
}
