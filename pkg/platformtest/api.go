package platformtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/qzcli/pkg/httputil"
)

const (
	TokenPath  = "/auth/token"
	DetailPath = "/openapi/v1/train_job/detail"
	StopPath   = "/openapi/v1/train_job/stop"
	CreatePath = "/openapi/v1/train_job/create"
	TasksPath  = "/api/v1/workspace/list_task_dimension"

	// TokenTTL is the expires_in of issued tokens
	TokenTTL = 3600
)

// Task builds a task_dimensions entry
func Task(id, name, project string, gpus int) map[string]interface{} {
	return map[string]interface{}{
		"id":       id,
		"name":     name,
		"type":     "distributed_training",
		"status":   "running",
		"priority": 10,
		"user":     map[string]interface{}{"id": "u-" + Username, "name": Username},
		"project":  map[string]interface{}{"id": "p-" + project, "name": project},
		"gpu":      map[string]interface{}{"total": gpus},
	}
}

// AddJob registers a job returned by the detail endpoint
func (p *Platform) AddJob(id string, detail map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := map[string]interface{}{"job_id": id}
	for k, v := range detail {
		d[k] = v
	}
	p.jobs[id] = d
}

// AddTasks appends tasks to a workspace
func (p *Platform) AddTasks(workspaceID string, tasks ...map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[workspaceID] = append(p.tasks[workspaceID], tasks...)
}

// ExpireNextCalls answers the next n OpenAPI calls with code -1
func (p *Platform) ExpireNextCalls(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireCalls = n
}

// RevokeTokens forgets every issued bearer token
func (p *Platform) RevokeTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = make(map[string]bool)
}

// SetTaskResponse overrides the task listing with a raw status and body
func (p *Platform) SetTaskResponse(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taskStatus, p.taskBody = status, body
}

// StoppedJobs returns the ids passed to the stop endpoint
func (p *Platform) StoppedJobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stopped...)
}

// CreatedJobs returns the bodies posted to the create endpoint
func (p *Platform) CreatedJobs() []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]json.RawMessage(nil), p.created...)
}

// TaskHeaders returns the headers of every task listing request
func (p *Platform) TaskHeaders() []http.Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]http.Header(nil), p.taskHeaders...)
}

func (p *Platform) apiRoutes(r *mux.Router) {
	r.HandleFunc(TokenPath, p.handleToken).Methods(http.MethodPost)
	r.HandleFunc(DetailPath, p.bearer(p.handleDetail)).Methods(http.MethodPost)
	r.HandleFunc(StopPath, p.bearer(p.handleStop)).Methods(http.MethodPost)
	r.HandleFunc(CreatePath, p.bearer(p.handleCreate)).Methods(http.MethodPost)
	r.HandleFunc(TasksPath, p.handleTasks).Methods(http.MethodPost)
}

func (p *Platform) handleToken(w http.ResponseWriter, r *http.Request) {
	p.TokenCalls.Add(1)
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &creds) {
		return
	}
	if creds.Username != Username || creds.Password != Password {
		httputil.WriteEnvelope(w, 1001, "invalid username or password", nil)
		return
	}

	p.mu.Lock()
	token := p.next("tok")
	p.tokens[token] = true
	p.mu.Unlock()

	httputil.WriteEnvelope(w, 0, "", map[string]interface{}{
		"access_token": token,
		"expires_in":   TokenTTL,
	})
}

// bearer answers code -1 for unknown tokens and for the calls consumed by
// ExpireNextCalls.
func (p *Platform) bearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.APICalls.Add(1)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		p.mu.Lock()
		known := p.tokens[token]
		expire := p.expireCalls > 0
		if expire {
			p.expireCalls--
		}
		p.mu.Unlock()

		if !known || expire {
			httputil.WriteEnvelope(w, -1, "token expired", nil)
			return
		}
		next(w, r)
	}
}

type jobRequest struct {
	JobID string `json:"job_id"`
}

func (p *Platform) handleDetail(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	p.mu.Lock()
	job, ok := p.jobs[req.JobID]
	detail := make(map[string]interface{}, len(job))
	for k, v := range job {
		detail[k] = v
	}
	p.mu.Unlock()
	if !ok {
		httputil.WriteEnvelope(w, 40004, "job not found", nil)
		return
	}
	httputil.WriteEnvelope(w, 0, "", detail)
}

func (p *Platform) handleStop(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	p.mu.Lock()
	_, ok := p.jobs[req.JobID]
	if ok {
		p.stopped = append(p.stopped, req.JobID)
		p.jobs[req.JobID]["status"] = "stopped"
	}
	p.mu.Unlock()
	if !ok {
		httputil.WriteEnvelope(w, 40004, "job not found", nil)
		return
	}
	httputil.WriteEnvelope(w, 0, "", nil)
}

func (p *Platform) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec json.RawMessage
	if !httputil.ParseJSONOrError(w, r, &spec) {
		return
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(spec, &fields); err != nil || fields["name"] == nil {
		httputil.WriteEnvelope(w, 40001, "name is required", nil)
		return
	}

	p.mu.Lock()
	id := p.next("job")
	p.created = append(p.created, spec)
	p.jobs[id] = map[string]interface{}{"job_id": id, "name": fields["name"], "status": "pending"}
	p.mu.Unlock()

	httputil.WriteEnvelope(w, 0, "", map[string]string{"job_id": id})
}

func (p *Platform) handleTasks(w http.ResponseWriter, r *http.Request) {
	p.TaskCalls.Add(1)

	p.mu.Lock()
	p.taskHeaders = append(p.taskHeaders, r.Header.Clone())
	status, body := p.taskStatus, p.taskBody
	p.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
		return
	}
	if !p.hasSession(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		PageNum  int `json:"page_num"`
		PageSize int `json:"page_size"`
		Filter   struct {
			WorkspaceID string `json:"workspace_id"`
		} `json:"filter"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PageNum < 1 {
		req.PageNum = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 100
	}

	p.mu.Lock()
	all := append([]map[string]interface{}(nil), p.tasks[req.Filter.WorkspaceID]...)
	p.mu.Unlock()

	start := (req.PageNum - 1) * req.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + req.PageSize
	if end > len(all) {
		end = len(all)
	}
	httputil.WriteEnvelope(w, 0, "", map[string]interface{}{
		"task_dimensions": append([]map[string]interface{}{}, all[start:end]...),
		"total":           len(all),
	})
}
