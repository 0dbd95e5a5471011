package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/platinummonkey/qzcli/pkg/observability"
)

// GetJobDetail returns the detail of one job
func (c *Client) GetJobDetail(ctx context.Context, jobID string) (*JobDetail, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	x, err := c.requireExecutor()
	if err != nil {
		return nil, err
	}

	env, err := x.Execute(ctx, JobDetailPath, map[string]string{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	detail := &JobDetail{JobID: jobID}
	if env.HasData() {
		if err := env.DecodeData(detail); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
		}
		detail.Raw = env.Data
	} else {
		detail.Raw = json.RawMessage(`{}`)
	}
	return detail, nil
}

// GetJobsDetail fetches several jobs, at most MaxConcurrentDetails at a
// time. A failed job is reported in its own entry and does not stop the rest.
func (c *Client) GetJobsDetail(ctx context.Context, jobIDs []string) map[string]JobResult {
	results := make(map[string]JobResult, len(jobIDs))
	var mu sync.Mutex
	record := func(id string, r JobResult) {
		mu.Lock()
		results[id] = r
		mu.Unlock()
	}

	sem := semaphore.NewWeighted(MaxConcurrentDetails)
	var wg sync.WaitGroup
	seen := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		// jobs not started before ctx is done carry its error
		if err := sem.Acquire(ctx, 1); err != nil {
			record(id, JobResult{Err: err})
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					record(id, JobResult{Err: observability.MustRecover(r)})
				}
			}()
			detail, err := c.GetJobDetail(ctx, id)
			record(id, JobResult{Detail: detail, Err: err})
		}()
	}
	wg.Wait()

	observability.FromContext(ctx).WithField("jobs", len(results)).Debug("Fetched job details")
	return results
}

// StopJob asks the platform to stop a job
func (c *Client) StopJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	x, err := c.requireExecutor()
	if err != nil {
		return err
	}
	if _, err := x.Execute(ctx, JobStopPath, map[string]string{"job_id": jobID}); err != nil {
		return fmt.Errorf("failed to stop job %s: %w", jobID, err)
	}
	return nil
}

// CreateJob submits a job spec and returns the response data, or the whole
// response body when it carries no data.
func (c *Client) CreateJob(ctx context.Context, spec json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(spec) {
		return nil, fmt.Errorf("job spec is not valid JSON")
	}
	x, err := c.requireExecutor()
	if err != nil {
		return nil, err
	}
	env, err := x.Execute(ctx, JobCreatePath, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return env.DataOrBody(), nil
}

// TestConnection forces a token exchange
func (c *Client) TestConnection(ctx context.Context) error {
	x, err := c.requireExecutor()
	if err != nil {
		return err
	}
	if _, err := x.Tokens().GetToken(ctx, true); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}
