package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNilParameter        = errors.New("nil parameter")
	ErrInvalidCACert       = errors.New("invalid CA certificate")
	ErrInvalidIssuer       = errors.New("invalid issuer")
	ErrDiscoveryFailed     = errors.New("provider discovery failed")
	ErrUnsupportedGrant    = errors.New("unsupported grant type")
	ErrMissingIDToken      = errors.New("id_token is missing")
	ErrTokenRequestFailed  = errors.New("token request failed")
	ErrUserInfoUnavailable = errors.New("provider has no userinfo endpoint")
	ErrUserInfoFailed      = errors.New("user info failed")
	ErrLogoutUnavailable   = errors.New("provider has no end_session endpoint")
	ErrLogoutFailed        = errors.New("logout failed")
)

// ProviderError is returned when the provider answers a request with an OAuth2
// error response, for example rejected credentials or an invalid code.
type ProviderError struct {
	// StatusCode is the HTTP status the provider replied with.
	StatusCode int
	// Code is the OAuth2 "error" value, e.g. invalid_grant.
	Code string
	// Description is the OAuth2 "error_description" value, if any.
	Description string
	// Body is the raw response body.
	Body string
}

func (e *ProviderError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("provider error %d: %s: %s", e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Body)
	}
}

// Message returns the most helpful human readable text carried by the error.
func (e *ProviderError) Message() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	case e.Body != "":
		return e.Body
	default:
		return "authentication failed"
	}
}

// IsAuthentication reports whether the provider rejected the client or the
// user's credentials, as opposed to failing on its own.
func (e *ProviderError) IsAuthentication() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
