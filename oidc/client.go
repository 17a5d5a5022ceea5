package oidc

import (
	"context"
	"fmt"
)

// ScopeOpenID is the mandatory scope for all OpenID Connect requests.
const ScopeOpenID = "openid"

// Metadata is the subset of the provider's discovery document the rest of the
// module relies on. It is resolved once and never changes afterwards.
type Metadata struct {
	Issuer             string   `json:"issuer"`
	AuthURL            string   `json:"authorization_endpoint"`
	TokenURL           string   `json:"token_endpoint"`
	JWKSURL            string   `json:"jwks_uri"`
	UserInfoURL        string   `json:"userinfo_endpoint,omitempty"`
	EndSessionURL      string   `json:"end_session_endpoint,omitempty"`
	IDTokenSigningAlgs []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// Client is what the authentication layer needs from a provider.
type Client interface {
	// ClientID is the relying party id, used as the expected ID token audience.
	ClientID() string

	// WellKnown returns the discovered provider metadata.
	WellKnown() Metadata

	// AuthURL builds the authorization endpoint URL for the code flow. An empty
	// state is omitted.
	AuthURL(redirectURI, scope, state string) string

	// Token exchanges a grant for tokens. Provider rejections are returned as
	// *ProviderError.
	Token(ctx context.Context, grant GrantParams) (*TokenBundle, error)

	// UserInfo fetches the user-info claims for an access token.
	UserInfo(ctx context.Context, accessToken string) (map[string]interface{}, error)

	// Logout ends the provider session bound to refreshToken.
	Logout(ctx context.Context, refreshToken string) error
}

// GrantType identifies the OAuth2 grant used to obtain tokens.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantPassword          GrantType = "password"
)

// GrantParams carries the parameters of a token request.
type GrantParams struct {
	GrantType GrantType

	// Code and RedirectURI are used by the authorization code grant.
	Code        string
	RedirectURI string

	// Username and Password are used by the direct (password) grant.
	Username string
	Password string
}

// AuthorizationCodeGrant returns the parameters for exchanging an
// authorization code.
func AuthorizationCodeGrant(code, redirectURI string) GrantParams {
	return GrantParams{GrantType: GrantAuthorizationCode, Code: code, RedirectURI: redirectURI}
}

// PasswordGrant returns the parameters for a direct grant.
func PasswordGrant(username, password string) GrantParams {
	return GrantParams{GrantType: GrantPassword, Username: username, Password: password}
}

// Validate checks that the parameters required by the grant type are present.
func (g GrantParams) Validate() error {
	const op = "GrantParams.Validate"
	switch g.GrantType {
	case GrantAuthorizationCode:
		if g.Code == "" {
			return fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
		}
	case GrantPassword:
		if g.Username == "" {
			return fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%s: %q: %w", op, g.GrantType, ErrUnsupportedGrant)
	}
	return nil
}
