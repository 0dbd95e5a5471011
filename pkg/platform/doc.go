// Package platform wraps the QZ endpoints qzcli uses.
//
// Job operations go through an auth.Executor and so inherit the bearer token
// cache and the one-shot retry. Workspace task listing is only reachable from
// the browser surface and takes a session cookie instead.
//
//	client := platform.NewClient(cfg.APIBaseURL, executor)
//	detail, err := client.GetJobDetail(ctx, "job-123")
//	page, err := client.ListWorkspaceTasks(ctx, cookie, platform.TaskQuery{WorkspaceID: ws})
//	if errors.Is(err, platform.ErrCookieExpired) {
//		// run qzcli login again
//	}
package platform
