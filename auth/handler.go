// Package auth orchestrates the session reads and writes of an OIDC relying
// party: token and state checks, login through the provider and logout.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/authgate/authgate/jwt"
	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/session"
	"github.com/hashicorp/go-hclog"
)

// TokenValidator validates ID tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) jwt.Result
}

// Handler performs every session mutation of the authentication flow. Each
// mutating method persists the session exactly once.
type Handler struct {
	store        session.Store
	client       oidc.Client
	validator    TokenValidator
	stateControl bool
	bypass       bool
	scope        string
	logger       hclog.Logger
}

// NewHandler creates a Handler for a live provider.
//
// Supported options: WithStateControl, WithScope, WithLogger
func NewHandler(store session.Store, client oidc.Client, validator TokenValidator, opt ...Option) (*Handler, error) {
	const op = "auth.NewHandler"
	switch {
	case store == nil:
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	case client == nil:
		return nil, fmt.Errorf("%s: oidc client is nil: %w", op, ErrNilParameter)
	case validator == nil:
		return nil, fmt.Errorf("%s: token validator is nil: %w", op, ErrNilParameter)
	}
	opts := getHandlerOpts(opt...)
	return &Handler{
		store:        store,
		client:       client,
		validator:    validator,
		stateControl: opts.withStateControl,
		scope:        opts.withScope,
		logger:       opts.withLogger,
	}, nil
}

// NewBypassHandler creates a Handler that never contacts a provider: every
// stored token is considered valid. It is meant to be paired with DebugBypass.
//
// Supported options: WithStateControl, WithLogger
func NewBypassHandler(store session.Store, opt ...Option) (*Handler, error) {
	const op = "auth.NewBypassHandler"
	if store == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	opts := getHandlerOpts(opt...)
	return &Handler{
		store:        store,
		stateControl: opts.withStateControl,
		bypass:       true,
		scope:        opts.withScope,
		logger:       opts.withLogger,
	}, nil
}

// StateControl reports whether the anti-CSRF state nonce is in use.
func (h *Handler) StateControl() bool { return h.stateControl }

// Bypass reports whether the handler runs without a provider.
func (h *Handler) Bypass() bool { return h.bypass }

// Open loads the request's session.
func (h *Handler) Open(r *http.Request) (*session.Session, error) {
	return h.store.Open(r)
}

// IsTokenValid reports whether the session's ID token, if any, still
// validates. A session without a token is valid.
func (h *Handler) IsTokenValid(r *http.Request, s *session.Session) bool {
	if !s.Has(session.TokenKey) || h.bypass {
		return true
	}
	tk, _ := s.Token()
	res := h.validator.Validate(r.Context(), tk.IDToken)
	if !res.Valid() {
		h.logger.Debug("session token is no longer valid", "reason", res.Reason)
	}
	return res.Valid()
}

// IsStateValid reports whether the request's state parameter agrees with the
// nonce stored in the session. It is only false when both are present and
// differ, and always true when state control is off.
func (h *Handler) IsStateValid(r *http.Request, s *session.Session) bool {
	if !h.stateControl {
		return true
	}
	stored := s.GetString(session.StateKey)
	got := r.URL.Query().Get("state")
	if stored == "" || got == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(got)) == 1
}

// IsLoggedIn reports whether the session holds a token.
func (h *Handler) IsLoggedIn(s *session.Session) bool {
	if tk, ok := s.Token(); ok {
		return !tk.IsZero()
	}
	v, ok := s.Get(session.TokenKey)
	return ok && v != nil && v != ""
}

// AuthURL returns the provider authorization URL for callbackURI. The state is
// dropped when state control is off.
func (h *Handler) AuthURL(state, callbackURI string) string {
	if h.client == nil {
		return ""
	}
	if !h.stateControl {
		state = ""
	}
	return h.client.AuthURL(callbackURI, h.scope, state)
}

// Login exchanges grant for tokens, validates the ID token, fetches the
// user-info and stores all three in s with a single save. Any failure is a
// *LoginError and leaves the persisted session as it was.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request, s *session.Session, grant oidc.GrantParams) error {
	if h.client == nil {
		return &LoginError{Kind: Connectivity, Message: "Authentication is disabled", StatusCode: http.StatusServiceUnavailable}
	}
	ctx := r.Context()

	tk, err := h.client.Token(ctx, grant)
	if err != nil {
		return h.tokenError(err)
	}

	res := h.validator.Validate(ctx, tk.IDToken)
	switch {
	case res.Reason == jwt.KeyFetchFailure:
		return &LoginError{Kind: Connectivity, Message: "Unable to verify the identity token", StatusCode: http.StatusBadGateway}
	case !res.Valid():
		return &LoginError{Kind: InvalidToken, Message: "Invalid identity token", StatusCode: http.StatusUnauthorized, Err: errors.New(res.Reason.String())}
	}

	user, err := h.client.UserInfo(ctx, tk.AccessToken)
	switch {
	case errors.Is(err, oidc.ErrUserInfoUnavailable):
		h.logger.Debug("provider has no userinfo endpoint, using id token claims")
		user = make(map[string]interface{}, len(res.Claims))
		for k, v := range res.Claims {
			user[k] = v
		}
	case err != nil:
		return &LoginError{Kind: Connectivity, Message: "Unable to fetch user information", StatusCode: http.StatusBadGateway, Err: err}
	}

	s.Delete(session.StateKey)
	s.Set(session.TokenKey, *tk)
	s.Set(session.DataKey, res.Claims)
	s.Set(session.UserKey, user)
	s.Renew()
	if err := h.store.Save(w, r, s); err != nil {
		return &LoginError{Kind: SessionFailure, Message: "Unable to store the session", StatusCode: http.StatusInternalServerError, Err: err}
	}
	h.logger.Debug("login succeeded", "grant_type", grant.GrantType, "sub", res.Claims["sub"])
	return nil
}

func (h *Handler) tokenError(err error) *LoginError {
	var pe *oidc.ProviderError
	if errors.As(err, &pe) && pe.IsAuthentication() {
		h.logger.Debug("provider rejected login", "status", pe.StatusCode, "error", pe.Code)
		return &LoginError{Kind: ProviderAuthentication, Message: pe.Message(), StatusCode: pe.StatusCode, Err: err}
	}
	if errors.Is(err, oidc.ErrInvalidParameter) {
		return &LoginError{Kind: ProviderAuthentication, Message: "Missing credentials", StatusCode: http.StatusBadRequest, Err: err}
	}
	h.logger.Warn("token request failed", "error", err)
	return &LoginError{Kind: Connectivity, Message: "Unable to reach the identity provider", StatusCode: http.StatusBadGateway, Err: err}
}

// SetSession merges fields into s and persists it.
func (h *Handler) SetSession(w http.ResponseWriter, r *http.Request, s *session.Session, fields map[string]interface{}) error {
	const op = "Handler.SetSession"
	s.Merge(fields)
	if err := h.store.Save(w, r, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReplaceSession clears s, stores fields under a new session identifier and
// persists it.
func (h *Handler) ReplaceSession(w http.ResponseWriter, r *http.Request, s *session.Session, fields map[string]interface{}) error {
	const op = "Handler.ReplaceSession"
	s.Clear()
	s.Merge(fields)
	s.Renew()
	if err := h.store.Save(w, r, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CleanSession clears s and persists the empty session. Calling it again has
// no further effect.
func (h *Handler) CleanSession(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	const op = "Handler.CleanSession"
	if err := h.ReplaceSession(w, r, s, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Logout ends the provider session using the stored refresh token and clears
// s. A failed revocation is logged; the local session is cleared regardless.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	const op = "Handler.Logout"
	if tk, ok := s.Token(); ok && tk.RefreshToken != "" && h.client != nil {
		if err := h.client.Logout(r.Context(), tk.RefreshToken); err != nil {
			h.logger.Warn("provider logout failed", "error", err)
		}
	}
	if err := h.CleanSession(w, r, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
