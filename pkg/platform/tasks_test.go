package platform_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/auth"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/platform"
	"github.com/platinummonkey/qzcli/pkg/platformtest"
)

const testCookie = "session=sess-fixed; qz_lang=zh"

func newTaskPlatform(t *testing.T) *platformtest.Platform {
	t.Helper()
	p := platformtest.New(t)
	p.AddSession("sess-fixed")
	p.AddTasks("ws-1",
		platformtest.Task("t-1", "pretrain-a", "llm-pretrain", 64),
		platformtest.Task("t-2", "detector", "vision", 8),
		platformtest.Task("t-3", "sft-b", "llm-sft", 16),
	)
	return p
}

func taskIDs(tasks []platform.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestListWorkspaceTasks(t *testing.T) {
	p := newTaskPlatform(t)
	c := newTestClient(t, p, nil, auth.Credentials{})

	page, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []string{"t-1", "t-2", "t-3"}, taskIDs(page.Tasks))

	first := page.Tasks[0]
	assert.Equal(t, "llm-pretrain", first.Project.Name)
	assert.Equal(t, platformtest.Username, first.User.Name)
	assert.Equal(t, 64, first.GPU.Total)
	assert.Equal(t, 10, first.Priority)

	// the cookie endpoint never touches the bearer token
	assert.EqualValues(t, 0, p.TokenCalls.Load())
}

func TestListWorkspaceTasks_BrowserHeaders(t *testing.T) {
	p := newTaskPlatform(t)
	c := newTestClient(t, p, nil, auth.Credentials{})

	_, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1"})
	require.NoError(t, err)

	headers := p.TaskHeaders()
	require.Len(t, headers, 1)
	h := headers[0]
	assert.Equal(t, testCookie, h.Get("Cookie"))
	assert.Equal(t, "https://qz.example.edu", h.Get("Origin"))
	assert.Equal(t, "https://qz.example.edu/jobs/spacesOverview?spaceId=ws-1", h.Get("Referer"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Contains(t, h.Get("User-Agent"), "Mozilla/5.0")
	assert.Equal(t, "cors", h.Get("Sec-Fetch-Mode"))
}

func TestListWorkspaceTasks_Paging(t *testing.T) {
	p := newTaskPlatform(t)
	c := newTestClient(t, p, nil, auth.Credentials{})

	page, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []string{"t-3"}, taskIDs(page.Tasks))

	all, err := c.ListAllWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1", "t-2", "t-3"}, taskIDs(all))
	assert.EqualValues(t, 3, p.TaskCalls.Load())
}

func TestListWorkspaceTasks_ProjectFilter(t *testing.T) {
	p := newTaskPlatform(t)
	c := newTestClient(t, p, nil, auth.Credentials{})

	tests := []struct {
		project string
		want    []string
	}{
		{"llm", []string{"t-1", "t-3"}},
		{"vision", []string{"t-2"}},
		{"audio", []string{}},
		{"", []string{"t-1", "t-2", "t-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.project, func(t *testing.T) {
			page, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1", Project: tt.project})
			require.NoError(t, err)
			assert.Equal(t, tt.want, taskIDs(page.Tasks))
			assert.Equal(t, 3, page.Total)

			all, err := c.ListAllWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1", Project: tt.project, PageSize: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.want, taskIDs(all))
		})
	}
}

func TestListWorkspaceTasks_EmptyWorkspace(t *testing.T) {
	p := newTaskPlatform(t)
	c := newTestClient(t, p, nil, auth.Credentials{})

	page, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-empty"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Tasks)
	assert.Empty(t, page.Tasks)
}

func TestListWorkspaceTasks_CookieExpired(t *testing.T) {
	p := newTaskPlatform(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := newTestClient(t, p, metrics, auth.Credentials{})

	_, err := c.ListWorkspaceTasks(context.Background(), "session=stale", platform.TaskQuery{WorkspaceID: "ws-1"})
	assert.ErrorIs(t, err, platform.ErrCookieExpired)

	require.NoError(t, c.ValidateCookie(context.Background(), testCookie, "ws-1"))
	p.ExpireSessions()
	assert.ErrorIs(t, c.ValidateCookie(context.Background(), testCookie, "ws-1"), platform.ErrCookieExpired)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(platform.TasksPath, "cookie_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(platform.TasksPath, "ok")))
}

func TestListWorkspaceTasks_BadResponses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "gateway error", status: http.StatusBadGateway, body: "bad gateway", wantCode: http.StatusBadGateway},
		{name: "forbidden", status: http.StatusForbidden, body: `{"code":403}`, wantCode: http.StatusForbidden},
		{name: "login page instead of JSON", status: http.StatusOK, body: "<html>login</html>", wantErr: "response is not valid JSON"},
		{name: "JSON without code", status: http.StatusOK, body: `{"data":{}}`, wantErr: "response is not valid JSON"},
		{name: "business error", status: http.StatusOK, body: `{"code":10003,"message":"no permission"}`, wantCode: 10003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTaskPlatform(t)
			p.SetTaskResponse(tt.status, tt.body)
			c := newTestClient(t, p, nil, auth.Credentials{})

			_, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1"})
			require.Error(t, err)
			assert.NotErrorIs(t, err, platform.ErrCookieExpired)

			if tt.wantCode != 0 {
				var apiErr *auth.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantCode, apiErr.Code)
			} else {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestListWorkspaceTasks_Validation(t *testing.T) {
	p := newTaskPlatform(t)
	c := newTestClient(t, p, nil, auth.Credentials{})

	_, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{})
	assert.EqualError(t, err, "workspace_id is required")

	_, err = c.ListWorkspaceTasks(context.Background(), "", platform.TaskQuery{WorkspaceID: "ws-1"})
	assert.EqualError(t, err, "cookie is required")

	assert.EqualValues(t, 0, p.TaskCalls.Load())
}

func TestListWorkspaceTasks_Connectivity(t *testing.T) {
	p := newTaskPlatform(t)
	p.SetDown(true)
	c := newTestClient(t, p, nil, auth.Credentials{})

	_, err := c.ListWorkspaceTasks(context.Background(), testCookie, platform.TaskQuery{WorkspaceID: "ws-1"})
	var connErr *auth.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "https://qz.example.edu"+platform.TasksPath, connErr.URL)
}
