package oidc

import (
	"encoding/gob"
	"time"
)

// RedactedToken is the redacted string for tokens
const RedactedToken = "[REDACTED: token]"

// TokenBundle is the set of tokens returned by the provider's token endpoint.
// It is stored in sessions, so it only carries plain values.
type TokenBundle struct {
	IDToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func init() {
	gob.Register(TokenBundle{})
}

// String will redact the tokens
func (t TokenBundle) String() string {
	return RedactedToken
}

// IsZero reports whether the bundle carries no tokens at all.
func (t TokenBundle) IsZero() bool {
	return t.IDToken == "" && t.AccessToken == "" && t.RefreshToken == ""
}
