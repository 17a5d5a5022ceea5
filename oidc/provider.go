package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/authgate/authgate/internal/httpclient"
	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of a failed provider response is kept.
const maxErrorBody = 64 << 10

// Provider implements Client for a discoverable OIDC provider.
type Provider struct {
	config   *Config
	client   *http.Client
	provider *gooidc.Provider
	metadata Metadata
	logger   hclog.Logger
}

var _ Client = (*Provider)(nil)

// NewProvider creates and initializes a Provider. Initializing the provider
// includes making an http request to the provider's issuer for discovery; the
// resulting metadata is never refreshed.
//
// Supported options: WithLogger, WithHTTPClient
func NewProvider(ctx context.Context, c *Config, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}

	issuer := c.IssuerURL()
	provider, err := gooidc.NewProvider(httpclient.Context(ctx, client), issuer) // makes http req to issuer for discovery
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrDiscoveryFailed, err)
	}

	var md Metadata
	if err := provider.Claims(&md); err != nil {
		return nil, fmt.Errorf("%s: unable to decode discovery document: %w: %s", op, ErrDiscoveryFailed, err)
	}
	if md.JWKSURL == "" {
		return nil, fmt.Errorf("%s: discovery document has no jwks_uri: %w", op, ErrDiscoveryFailed)
	}

	p := &Provider{
		config:   c,
		client:   client,
		provider: provider,
		metadata: md,
		logger:   opts.withLogger,
	}
	p.logger.Debug("discovered provider", "issuer", md.Issuer, "jwks_uri", md.JWKSURL, "end_session_endpoint", md.EndSessionURL)
	return p, nil
}

// ClientID implements Client.
func (p *Provider) ClientID() string { return p.config.ClientID }

// WellKnown implements Client. The returned value is a copy.
func (p *Provider) WellKnown() Metadata {
	md := p.metadata
	md.IDTokenSigningAlgs = append([]string(nil), p.metadata.IDTokenSigningAlgs...)
	return md
}

// HTTPClient returns the client used for every provider request.
func (p *Provider) HTTPClient() *http.Client { return p.client }

func (p *Provider) oauth2Config(redirectURI string, scopes []string) *oauth2.Config {
	endpoint := p.provider.Endpoint()
	// client credentials are posted in the form body, which every provider
	// accepts and avoids the auto detection round trip.
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
	}
}

// AuthURL implements Client.
func (p *Provider) AuthURL(redirectURI, scope, state string) string {
	return p.oauth2Config(redirectURI, strings.Fields(scope)).AuthCodeURL(state)
}

// Token implements Client.
func (p *Provider) Token(ctx context.Context, grant GrantParams) (*TokenBundle, error) {
	const op = "Provider.Token"
	if err := grant.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oidcCtx := httpclient.Context(ctx, p.client)

	var (
		tk  *oauth2.Token
		err error
	)
	switch grant.GrantType {
	case GrantAuthorizationCode:
		tk, err = p.oauth2Config(grant.RedirectURI, nil).Exchange(oidcCtx, grant.Code)
	case GrantPassword:
		tk, err = p.oauth2Config("", strings.Fields(p.config.AuthScope())).PasswordCredentialsToken(oidcCtx, grant.Username, grant.Password)
	}
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, providerError(re)
		}
		return nil, fmt.Errorf("%s: %w: %s", op, ErrTokenRequestFailed, err)
	}

	idToken, _ := tk.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	return &TokenBundle{
		IDToken:      idToken,
		AccessToken:  tk.AccessToken,
		RefreshToken: tk.RefreshToken,
		TokenType:    tk.TokenType,
		Expiry:       tk.Expiry,
	}, nil
}

func providerError(re *oauth2.RetrieveError) *ProviderError {
	pe := &ProviderError{
		Code:        re.ErrorCode,
		Description: re.ErrorDescription,
		Body:        string(re.Body),
	}
	if re.Response != nil {
		pe.StatusCode = re.Response.StatusCode
	}
	return pe
}

// UserInfo implements Client.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	const op = "Provider.UserInfo"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if p.metadata.UserInfoURL == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUserInfoUnavailable)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := p.provider.UserInfo(httpclient.Context(ctx, p.client), ts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUserInfoFailed, err)
	}
	claims := map[string]interface{}{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %w: %s", op, ErrUserInfoFailed, err)
	}
	return claims, nil
}

// Logout implements Client by posting the refresh token to the provider's
// end_session endpoint.
func (p *Provider) Logout(ctx context.Context, refreshToken string) error {
	const op = "Provider.Logout"
	if refreshToken == "" {
		return fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	if p.metadata.EndSessionURL == "" {
		return fmt.Errorf("%s: %w", op, ErrLogoutUnavailable)
	}
	form := url.Values{
		"client_id":     {p.config.ClientID},
		"refresh_token": {refreshToken},
	}
	if p.config.ClientSecret != "" {
		form.Set("client_secret", string(p.config.ClientSecret))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.metadata.EndSessionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrLogoutFailed, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
		var oauthErr struct {
			Code        string `json:"error"`
			Description string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			pe.Code, pe.Description = oauthErr.Code, oauthErr.Description
		}
		return fmt.Errorf("%s: %w: %w", op, ErrLogoutFailed, pe)
	}
	return nil
}
