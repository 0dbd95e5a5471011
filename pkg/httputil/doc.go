// Package httputil holds the HTTP plumbing shared by the platform client,
// the SSO orchestrator, the fake platform used in tests and the keep-alive
// daemon.
//
// # Outbound
//
// NewClient builds a client whose transport is traced with otelhttp:
//
//	client := httputil.NewClient(60*time.Second, httputil.WithJar(jar))
//
// Platform responses share one envelope:
//
//	env, err := httputil.DecodeEnvelope(body)
//	if err == nil && env.OK() {
//		var detail JobDetail
//		err = env.DecodeData(&detail)
//	}
//
// BrowserHeaders and NavigationHeaders produce the header bundles the
// cookie-authenticated endpoints and the SSO pages expect.
//
// # Inbound
//
// WriteJSON, WriteEnvelope and the middlewares serve the fake platform and
// the daemon's /metrics and health endpoints.
package httputil
