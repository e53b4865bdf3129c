package cloudrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// ErrNoExecution is returned when a RunJob operation finishes without
// reporting an execution.
var ErrNoExecution = errors.New("run job operation returned no execution")

// JobsAPI is the subset of the Cloud Run Jobs API the launcher uses.
// RunJob returns as soon as the execution it created is known.
type JobsAPI interface {
	RunJob(ctx context.Context, req *runpb.RunJobRequest, opts ...gax.CallOption) (*runpb.Execution, error)
}

// ExecutionsAPI is the subset of the Cloud Run Executions API the launcher uses.
type ExecutionsAPI interface {
	GetExecution(ctx context.Context, req *runpb.GetExecutionRequest, opts ...gax.CallOption) (*runpb.Execution, error)
	CancelExecution(ctx context.Context, req *runpb.CancelExecutionRequest, opts ...gax.CallOption) error
}

// Options configures client construction.
type Options struct {
	// Endpoint points the clients at an emulator. REST transport without
	// authentication is used when it is set.
	Endpoint string
	// PollInterval is how often a RunJob operation is polled for its
	// execution. Defaults to one second.
	PollInterval time.Duration
	// ClientOptions are appended to the generated client options.
	ClientOptions []option.ClientOption
}

// Clients holds the Cloud Run clients.
type Clients struct {
	Jobs       *JobsClient
	Executions *ExecutionsClient
}

// NewClients creates Jobs and Executions clients.
func NewClients(ctx context.Context, opts Options) (*Clients, error) {
	clientOpts := append([]option.ClientOption{}, opts.ClientOptions...)

	var (
		jobs  *run.JobsClient
		execs *run.ExecutionsClient
		err   error
	)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
		jobs, err = run.NewJobsRESTClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating jobs client: %w", err)
		}
		execs, err = run.NewExecutionsRESTClient(ctx, clientOpts...)
	} else {
		jobs, err = run.NewJobsClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating jobs client: %w", err)
		}
		execs, err = run.NewExecutionsClient(ctx, clientOpts...)
	}
	if err != nil {
		_ = jobs.Close()
		return nil, fmt.Errorf("creating executions client: %w", err)
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &Clients{
		Jobs:       &JobsClient{client: jobs, pollInterval: pollInterval},
		Executions: &ExecutionsClient{client: execs},
	}, nil
}

// Close closes both clients.
func (c *Clients) Close() error {
	return errors.Join(c.Jobs.client.Close(), c.Executions.client.Close())
}

// JobsClient adapts run.JobsClient to JobsAPI.
type JobsClient struct {
	client       *run.JobsClient
	pollInterval time.Duration
}

// RunJob starts the job and polls the operation until its metadata names
// the execution. It does not wait for the execution to finish.
func (c *JobsClient) RunJob(ctx context.Context, req *runpb.RunJobRequest, opts ...gax.CallOption) (*runpb.Execution, error) {
	op, err := c.client.RunJob(ctx, req, opts...)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		execution, err := op.Metadata()
		if err == nil && execution.GetName() != "" {
			return execution, nil
		}
		if op.Done() {
			// a finished operation carries the execution as its result
			execution, err := op.Wait(ctx)
			if err != nil {
				return nil, err
			}
			if execution.GetName() == "" {
				return nil, ErrNoExecution
			}
			return execution, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if _, err := op.Poll(ctx); err != nil && !op.Done() {
			return nil, fmt.Errorf("polling run job operation %s: %w", op.Name(), err)
		}
	}
}

// ExecutionsClient adapts run.ExecutionsClient to ExecutionsAPI.
type ExecutionsClient struct {
	client *run.ExecutionsClient
}

func (c *ExecutionsClient) GetExecution(ctx context.Context, req *runpb.GetExecutionRequest, opts ...gax.CallOption) (*runpb.Execution, error) {
	return c.client.GetExecution(ctx, req, opts...)
}

// CancelExecution requests cancellation. The cancel operation is not
// awaited; the execution's counts reflect it once the platform acts.
func (c *ExecutionsClient) CancelExecution(ctx context.Context, req *runpb.CancelExecutionRequest, opts ...gax.CallOption) error {
	_, err := c.client.CancelExecution(ctx, req, opts...)
	return err
}

// RetryOptions returns call options retrying RESOURCE_EXHAUSTED and
// UNAVAILABLE with backoff starting at wait, bounded by timeout overall.
func RetryOptions(wait, timeout time.Duration) []gax.CallOption {
	if wait <= 0 || timeout <= 0 {
		return nil
	}
	return []gax.CallOption{
		gax.WithRetry(func() gax.Retryer {
			return &deadlineRetryer{
				retryer: gax.OnCodes([]codes.Code{codes.ResourceExhausted, codes.Unavailable}, gax.Backoff{
					Initial:    wait,
					Max:        timeout,
					Multiplier: 1.5,
				}),
				deadline: time.Now().Add(timeout),
			}
		}),
	}
}

type deadlineRetryer struct {
	retryer  gax.Retryer
	deadline time.Time
}

func (r *deadlineRetryer) Retry(err error) (time.Duration, bool) {
	pause, ok := r.retryer.Retry(err)
	if !ok || time.Now().Add(pause).After(r.deadline) {
		return 0, false
	}
	return pause, true
}
