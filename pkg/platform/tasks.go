package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/qzcli/pkg/auth"
	"github.com/platinummonkey/qzcli/pkg/httputil"
	"github.com/platinummonkey/qzcli/pkg/observability"
)

// ListWorkspaceTasks lists running tasks of a workspace with a browser
// session cookie. A 401 is ErrCookieExpired and other non-200 statuses are
// *auth.APIError carrying the status as Code.
func (c *Client) ListWorkspaceTasks(ctx context.Context, cookie string, q TaskQuery) (*TaskPage, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	if cookie == "" {
		return nil, fmt.Errorf("cookie is required")
	}

	start := time.Now()
	page, err := c.listTasks(ctx, cookie, q)
	c.metrics.RecordAPIRequest(TasksPath, taskStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	if q.Project != "" {
		filtered := page.Tasks[:0]
		for _, t := range page.Tasks {
			if strings.Contains(t.Project.Name, q.Project) {
				filtered = append(filtered, t)
			}
		}
		page.Tasks = filtered
	}
	return page, nil
}

// ListAllWorkspaceTasks follows pages until total is reached or a page
// comes back empty.
func (c *Client) ListAllWorkspaceTasks(ctx context.Context, cookie string, q TaskQuery) ([]Task, error) {
	project := q.Project
	q.Project = ""
	q.Page = 1

	var all []Task
	for {
		page, err := c.ListWorkspaceTasks(ctx, cookie, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Tasks...)
		if len(page.Tasks) == 0 || len(all) >= page.Total {
			break
		}
		q.Page++
	}

	if project == "" {
		return all, nil
	}
	filtered := make([]Task, 0, len(all))
	for _, t := range all {
		if strings.Contains(t.Project.Name, project) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// ValidateCookie lists one task to check that cookie still opens workspaceID
func (c *Client) ValidateCookie(ctx context.Context, cookie, workspaceID string) error {
	_, err := c.ListWorkspaceTasks(ctx, cookie, TaskQuery{WorkspaceID: workspaceID, PageSize: 1})
	return err
}

func (c *Client) listTasks(ctx context.Context, cookie string, q TaskQuery) (*TaskPage, error) {
	endpoint := c.baseURL + TasksPath
	payload := map[string]interface{}{
		"page_num":  q.Page,
		"page_size": q.PageSize,
		"filter":    map[string]string{"workspace_id": q.WorkspaceID},
	}
	req, err := httputil.NewJSONRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	referer := c.baseURL + "/jobs/spacesOverview?spaceId=" + url.QueryEscape(q.WorkspaceID)
	httputil.ApplyHeaders(req, httputil.BrowserHeaders(c.userAgent, httputil.Origin(c.baseURL), referer))
	req.Header.Set("Cookie", cookie)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &auth.ConnectivityError{Op: "POST", URL: endpoint, Err: err}
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, &auth.ConnectivityError{Op: "POST", URL: endpoint, Err: err}
	}

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"workspace_id": q.WorkspaceID,
		"status":       resp.StatusCode,
	})
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		logger.Debug("Cookie rejected")
		return nil, ErrCookieExpired
	case resp.StatusCode != http.StatusOK:
		return nil, &auth.APIError{Code: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	env, err := httputil.DecodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("response is not valid JSON, check the cookie: %w", err)
	}
	if !env.OK() {
		return nil, &auth.APIError{Code: env.Code, Message: env.Message}
	}

	page := &TaskPage{}
	if err := env.DecodeData(page); err != nil {
		return nil, err
	}
	if page.Tasks == nil {
		page.Tasks = []Task{}
	}
	logger.WithField("tasks", len(page.Tasks)).Debug("Listed workspace tasks")
	return page, nil
}

func taskStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCookieExpired):
		return "cookie_expired"
	default:
		return "error"
	}
}
