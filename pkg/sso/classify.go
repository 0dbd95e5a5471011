package sso

import "strings"

// Classifier maps an identity-provider error page to a failure kind when the
// page contains any of its markers. Markers match case-insensitively.
type Classifier struct {
	Kind    FailureKind
	Markers []string
}

// Match reports whether body carries one of the markers
func (c Classifier) Match(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range c.Markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// DefaultClassifiers are tried in order. Credential errors come first since
// the login form itself may mention the captcha field.
var DefaultClassifiers = []Classifier{
	{
		Kind:    KindBadCredentials,
		Markers: []string{"用户名或密码错误", "密码错误", "Invalid credentials"},
	},
	{
		Kind:    KindCaptchaRequired,
		Markers: []string{"验证码", "captcha"},
	},
}

// Classify returns the kind of the first matching classifier, or
// KindUnknownLoginRejection.
func Classify(body string, classifiers []Classifier) FailureKind {
	for _, c := range classifiers {
		if c.Match(body) {
			return c.Kind
		}
	}
	return KindUnknownLoginRejection
}
