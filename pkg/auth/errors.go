package auth

import (
	"errors"
	"fmt"
)

// CodeAuthExpired is the business code the platform returns for a stale token
const CodeAuthExpired = -1

var (
	// ErrAuthExpired matches an *APIError carrying CodeAuthExpired
	ErrAuthExpired = errors.New("auth: token expired")
	// ErrAuthConfigMissing means no username/password is configured and a
	// network token fetch was needed.
	ErrAuthConfigMissing = errors.New("auth: credentials not configured, run `qzcli init` or set QZCLI_USERNAME/QZCLI_PASSWORD")
	// ErrMissingAccessToken means the token endpoint answered code 0 without a token
	ErrMissingAccessToken = errors.New("auth: token response has no access_token")
)

// ConnectivityError wraps transport failures and bodies that cannot be
// decoded. These are never retried.
type ConnectivityError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// APIError is a non-zero business code from the platform
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("platform rejected request (code %d): %s", e.Code, msg)
}

// Is lets errors.Is(err, ErrAuthExpired) match an expired-token response
func (e *APIError) Is(target error) bool {
	return target == ErrAuthExpired && e.Code == CodeAuthExpired
}
