package middleware

import (
	"context"
	"fmt"
)

// Verdict is the decision taken for a single request.
type Verdict int

const (
	// PassThrough hands a whitelisted request to the wrapped application
	// without authentication.
	PassThrough Verdict = iota
	// RedirectToLogin sends the browser to the provider's authorization
	// endpoint.
	RedirectToLogin
	// RejectUnauthorized answers 401 for paths on the abort list.
	RejectUnauthorized
	// RejectInvalidState answers 400 when the callback state does not match
	// the stored nonce.
	RejectInvalidState
	// CompleteLogin stored a new login and redirected to the base URL.
	CompleteLogin
	// AlreadyAuthenticated hands a logged in request to the wrapped
	// application.
	AlreadyAuthenticated
	// SessionFailure answers 500 because the session could not be read or
	// written.
	SessionFailure
)

func (v Verdict) String() string {
	switch v {
	case PassThrough:
		return "pass_through"
	case RedirectToLogin:
		return "redirect_to_login"
	case RejectUnauthorized:
		return "reject_unauthorized"
	case RejectInvalidState:
		return "reject_invalid_state"
	case CompleteLogin:
		return "complete_login"
	case AlreadyAuthenticated:
		return "already_authenticated"
	case SessionFailure:
		return "session_failure"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

type verdictKey struct{}

// VerdictFromContext returns the verdict under which the middleware handed the
// request to the wrapped handler: PassThrough for whitelisted paths, which
// were not authenticated, or AlreadyAuthenticated for a validated session.
func VerdictFromContext(ctx context.Context) (Verdict, bool) {
	v, ok := ctx.Value(verdictKey{}).(Verdict)
	return v, ok
}
