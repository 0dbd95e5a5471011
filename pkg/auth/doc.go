// Package auth gives qzcli bearer-token access to the platform OpenAPI.
//
// # Token exchange
//
// TokenExchanger posts the configured username and password to
// {base}/auth/token and caches the returned token twice: in memory for the
// life of the process and in a storage.Store for later runs. GetToken checks
// memory, then the store, then the network. Both caches stop serving a token
// 300 seconds before it expires.
//
//	tokens, err := auth.NewTokenExchanger(auth.ExchangerConfig{
//		BaseURL:     cfg.APIBaseURL,
//		Credentials: auth.Credentials{Username: u, Password: p},
//		Store:       store,
//	})
//	token, err := tokens.GetToken(ctx, false)
//
// Concurrent network fetches collapse into one request. TokenSource exposes
// the exchanger as an oauth2.TokenSource.
//
// # Authenticated calls
//
// Executor attaches the token, posts JSON and decodes the {code, message,
// data} envelope. When the platform answers code -1 the token is invalidated
// and the call is sent once more with a fresh one; a second -1 is returned
// as an *APIError that matches ErrAuthExpired.
//
//	env, err := executor.Execute(ctx, "/openapi/v1/train_job/detail", map[string]string{"job_id": id})
//	switch {
//	case errors.Is(err, auth.ErrAuthExpired):
//	case errors.As(err, &apiErr):
//	case errors.As(err, &connErr):
//	}
package auth
