package cloudrun

import (
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResourceNames(t *testing.T) {
	job := JobName("test_project", "test_region", "test_job_name")
	assert.Equal(t, "projects/test_project/locations/test_region/jobs/test_job_name", job)

	exec := ExecutionName(job, "test_execution_id")
	assert.Equal(t, "projects/test_project/locations/test_region/jobs/test_job_name/executions/test_execution_id", exec)

	assert.Equal(t, "test_execution_id", ExecutionID(exec))
	assert.Equal(t, "bare", ExecutionID("bare"))
}

func TestEnvVars(t *testing.T) {
	assert.Nil(t, EnvVars(nil))

	vars := EnvVars(map[string]string{"B": "2", "A": "1"})
	require.Len(t, vars, 2)
	assert.Equal(t, "A", vars[0].GetName())
	assert.Equal(t, "1", vars[0].GetValue())
	assert.Equal(t, "B", vars[1].GetName())
}

func TestRetryOptions(t *testing.T) {
	assert.Nil(t, RetryOptions(0, time.Minute))
	assert.Len(t, RetryOptions(10*time.Second, 300*time.Second), 1)
}

func TestDeadlineRetryer(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "try later")
	notFound := status.Error(codes.NotFound, "gone")

	r := &deadlineRetryer{
		retryer:  gax.OnCodes([]codes.Code{codes.Unavailable}, gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond}),
		deadline: time.Now().Add(time.Hour),
	}
	_, ok := r.Retry(unavailable)
	assert.True(t, ok)
	_, ok = r.Retry(notFound)
	assert.False(t, ok)

	expired := &deadlineRetryer{
		retryer:  gax.OnCodes([]codes.Code{codes.Unavailable}, gax.Backoff{Initial: time.Second, Max: time.Second}),
		deadline: time.Now(),
	}
	_, ok = expired.Retry(unavailable)
	assert.False(t, ok)
}
