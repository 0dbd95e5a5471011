// Package session wires a loaded config into working clients.
//
// A Session owns the credential store, one otelhttp-instrumented HTTP
// client, the token exchanger and executor, the platform client and the SSO
// client. CLI commands and the keep-alive daemon open one per run:
//
//	s, err := session.Open(ctx, cfg, session.Options{Metrics: metrics})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	record, err := s.Login(ctx, "", "", "ws-123")
//
// With token_cache_enabled off, bearer tokens are kept in a process-local
// memory store while cookies still go to the configured backend.
package session
