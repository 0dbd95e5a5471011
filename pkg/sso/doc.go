// Package sso obtains a platform session cookie by walking the campus single
// sign-on chain the way a browser does.
//
// # Flow
//
// The target redirects an anonymous visitor to the broker. The broker page
// embeds a loginUrl pointing at the CAS identity provider, whose form carries
// optional lt and execution values. The form is posted with the password
// encrypted by legacyrsa, and a successful post redirects back to the target,
// which issues the session cookie.
//
// Each step is a State value. A pure transition takes the current state and
// the page a request landed on and returns the next state with the next
// request, if any:
//
//	Start → AtBroker → AtIdentityProvider → Submitted → Success
//	                                                  ↘ Failed
//
// A target that already recognises the jar goes straight from Start to
// Success. After the form post, at most two GETs to the target are spent
// waiting for the session cookie.
//
// # Failures
//
// A flow that ends in Failed returns a *LoginError. Use errors.Is with the
// sentinels:
//
//	header, err := client.Login(ctx, user, pass)
//	switch {
//	case errors.Is(err, sso.ErrBadCredentials):
//	case errors.Is(err, sso.ErrCaptchaRequired):
//	}
//
// Rejections on the provider's login page are classified by matching the page
// text against DefaultClassifiers in order. Network failures surface as
// *auth.ConnectivityError.
//
// Only cookies issued for the target host end up in the returned header;
// broker and provider cookies stay in the per-login jar.
package sso
