package sso

import (
	"errors"
	"fmt"
)

// FailureKind names the way a login attempt ended without a session
type FailureKind int

const (
	KindUnexpectedLandingHost FailureKind = iota + 1
	KindBrokerEntryNotFound
	KindSSOPageNotReached
	KindBadCredentials
	KindCaptchaRequired
	KindUnknownLoginRejection
	KindSessionNotEstablished
)

var (
	ErrUnexpectedLandingHost = errors.New("landed on an unexpected host")
	ErrBrokerEntryNotFound   = errors.New("broker page has no identity provider entry")
	ErrSSOPageNotReached     = errors.New("identity provider login page not reached")
	ErrBadCredentials        = errors.New("username or password rejected")
	ErrCaptchaRequired       = errors.New("captcha required")
	ErrUnknownLoginRejection = errors.New("login rejected")
	ErrSessionNotEstablished = errors.New("session cookie not established")
)

var kindSentinels = map[FailureKind]error{
	KindUnexpectedLandingHost: ErrUnexpectedLandingHost,
	KindBrokerEntryNotFound:   ErrBrokerEntryNotFound,
	KindSSOPageNotReached:     ErrSSOPageNotReached,
	KindBadCredentials:        ErrBadCredentials,
	KindCaptchaRequired:       ErrCaptchaRequired,
	KindUnknownLoginRejection: ErrUnknownLoginRejection,
	KindSessionNotEstablished: ErrSessionNotEstablished,
}

var kindNames = map[FailureKind]string{
	KindUnexpectedLandingHost: "unexpected_landing_host",
	KindBrokerEntryNotFound:   "broker_entry_not_found",
	KindSSOPageNotReached:     "sso_page_not_reached",
	KindBadCredentials:        "bad_credentials",
	KindCaptchaRequired:       "captcha_required",
	KindUnknownLoginRejection: "unknown_login_rejection",
	KindSessionNotEstablished: "session_not_established",
}

// String returns the snake_case label used in logs and metrics
func (k FailureKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("failure_kind(%d)", int(k))
}

// Err returns the sentinel matching k
func (k FailureKind) Err() error {
	if err, ok := kindSentinels[k]; ok {
		return err
	}
	return ErrUnknownLoginRejection
}

// LoginError is returned when the flow ends in Failed. It matches the
// sentinel of its Kind with errors.Is.
type LoginError struct {
	Kind   FailureKind
	URL    string
	Detail string
}

func (e *LoginError) Error() string {
	msg := fmt.Sprintf("sso login failed: %v", e.Kind.Err())
	if e.URL != "" {
		msg += " at " + e.URL
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is reports whether target is the sentinel for e.Kind
func (e *LoginError) Is(target error) bool {
	return target == e.Kind.Err()
}
