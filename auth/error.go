package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrIDGenerator      = errors.New("id generation failed")
)

// ErrorKind classifies why a login failed.
type ErrorKind int

const (
	// ProviderAuthentication means the provider rejected the credentials or
	// the authorization code.
	ProviderAuthentication ErrorKind = iota
	// Connectivity means the provider could not be reached or failed.
	Connectivity
	// InvalidToken means the provider issued an ID token that did not validate.
	InvalidToken
	// SessionFailure means the tokens were obtained but could not be stored.
	SessionFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ProviderAuthentication:
		return "provider_authentication"
	case Connectivity:
		return "connectivity"
	case InvalidToken:
		return "invalid_token"
	case SessionFailure:
		return "session_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// LoginError is the failed outcome of Handler.Login. Message and StatusCode
// are safe to show to the end user.
type LoginError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *LoginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed (%s): %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("login failed (%s): %s", e.Kind, e.Message)
}

func (e *LoginError) Unwrap() error { return e.Err }

// WriteResponse writes the error as a plain text response.
func (e *LoginError) WriteResponse(w http.ResponseWriter) {
	status := e.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	http.Error(w, e.Message, status)
}
