package platform

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Endpoints relative to the API base URL
const (
	JobDetailPath = "/openapi/v1/train_job/detail"
	JobStopPath   = "/openapi/v1/train_job/stop"
	JobCreatePath = "/openapi/v1/train_job/create"
	TasksPath     = "/api/v1/workspace/list_task_dimension"
)

const (
	// MaxConcurrentDetails bounds GetJobsDetail fan-out
	MaxConcurrentDetails = 5
	DefaultPageSize      = 100
)

// ErrCookieExpired is returned when the cookie endpoint answers 401
var ErrCookieExpired = errors.New("cookie expired or invalid, obtain a new one")

// JobDetail is the data of a job detail response. Raw keeps the full object.
type JobDetail struct {
	JobID  string          `json:"job_id"`
	Name   string          `json:"name"`
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

// JobResult is one entry of GetJobsDetail
type JobResult struct {
	Detail *JobDetail
	Err    error
}

// TaskQuery selects a page of workspace tasks
type TaskQuery struct {
	WorkspaceID string
	Page        int
	PageSize    int
	// Project keeps only tasks whose project name contains it
	Project string
}

func (q TaskQuery) normalize() (TaskQuery, error) {
	if q.WorkspaceID == "" {
		return q, fmt.Errorf("workspace_id is required")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	return q, nil
}

// TaskPage is one page of list_task_dimension
type TaskPage struct {
	Tasks []Task `json:"task_dimensions"`
	Total int    `json:"total"`
}

// Task is a running task in a workspace
type Task struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Priority int      `json:"priority"`
	User     Ref      `json:"user"`
	Project  Ref      `json:"project"`
	GPU      GPUUsage `json:"gpu"`
}

// Ref is an id/name pair
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GPUUsage is the GPU count of a task
type GPUUsage struct {
	Total int `json:"total"`
}
