// Package middleware guards an http.Handler with an OIDC login. Every request
// is classified by a fixed sequence of checks and either handed to the
// wrapped handler or answered with a redirect or an error.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/authgate/authgate/auth"
	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/pathmatch"
	"github.com/authgate/authgate/session"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

// Middleware runs the authentication state machine in front of an
// http.Handler. It holds no per-request state and is safe for concurrent use.
type Middleware struct {
	handler      *auth.Handler
	redirectURI  *url.URL
	whitelist    pathmatch.Patterns
	abort        pathmatch.Patterns
	callbackPath string
	beforeLogin  auth.BeforeLogin
	logger       hclog.Logger
	verdicts     *prometheus.CounterVec
}

// New creates a Middleware that authenticates through h.
//
// Supported options: WithRedirectURI, WithWhitelist, WithAbortOnUnauthorized,
// WithCallbackPrefix, WithBeforeLogin, WithLogger, WithMetrics
func New(h *auth.Handler, opt ...Option) (*Middleware, error) {
	const op = "middleware.New"
	if h == nil {
		return nil, fmt.Errorf("%s: auth handler is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)

	m := &Middleware{
		handler:      h,
		whitelist:    opts.withWhitelist,
		abort:        opts.withAbort,
		callbackPath: callbackPath(opts.withCallbackPrefix),
		beforeLogin:  opts.withBeforeLogin,
		logger:       opts.withLogger,
	}
	if opts.withRedirectURI != "" {
		u, err := url.Parse(opts.withRedirectURI)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid redirect URI: %w: %s", op, ErrInvalidParameter, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%s: redirect URI %q must be absolute: %w", op, opts.withRedirectURI, ErrInvalidParameter)
		}
		m.redirectURI = u
	}
	if opts.withRegisterer != nil {
		m.verdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authgate",
			Subsystem: "middleware",
			Name:      "verdicts_total",
			Help:      "Number of requests by authentication verdict.",
		}, []string{"verdict"})
		if err := opts.withRegisterer.Register(m.verdicts); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("%s: unable to register metrics: %w", op, err)
			}
			m.verdicts = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return m, nil
}

// Wrap returns next guarded by the middleware. Its signature matches the
// middleware type of most routers, chi's Use included.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := m.serve(w, r, next)
		m.logger.Debug("request classified", "method", r.Method, "path", r.URL.Path, "verdict", v)
		if m.verdicts != nil {
			m.verdicts.WithLabelValues(v.String()).Inc()
		}
	})
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) Verdict {
	if m.whitelist.Match(r.URL.Path) {
		m.pass(w, r, next, m.BaseURL(r), PassThrough)
		return PassThrough
	}

	h := m.handler
	s, err := h.Open(r)
	if err != nil {
		m.logger.Error("unable to open session", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return SessionFailure
	}
	base := m.BaseURL(r)
	callbackURI := m.CallbackURI(base)

	switch {
	case !h.IsTokenValid(r, s):
		return m.restartLogin(w, r, s, callbackURI)

	case !h.IsStateValid(r, s):
		if err := h.CleanSession(w, r, s); err != nil {
			m.logger.Error("unable to clean session", "error", err)
		}
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return RejectInvalidState

	case h.IsLoggedIn(s):
		m.pass(w, r, next, base, AlreadyAuthenticated)
		return AlreadyAuthenticated
	}

	if m.beforeLogin.HandleBeforeLogin(h, w, r, s, base.String()) {
		return CompleteLogin
	}

	if r.URL.Path == m.callbackPath {
		code := r.URL.Query().Get("code")
		if code == "" {
			code = "unknown"
		}
		err := h.Login(w, r, s, oidc.AuthorizationCodeGrant(code, callbackURI))
		if err != nil {
			m.logger.Info("callback login failed", "error", err)
			return m.restartLogin(w, r, s, callbackURI)
		}
		http.Redirect(w, r, base.String(), http.StatusFound)
		return CompleteLogin
	}

	if m.abort.Match(r.URL.Path) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return RejectUnauthorized
	}
	state, err := m.newState()
	if err != nil {
		m.logger.Error("unable to generate state", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return SessionFailure
	}
	if state != "" {
		if err := h.SetSession(w, r, s, map[string]interface{}{session.StateKey: state}); err != nil {
			m.logger.Error("unable to store state", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return SessionFailure
		}
	}
	return m.redirectToProvider(w, r, state, callbackURI)
}

// restartLogin discards the session and starts a new authorization flow.
func (m *Middleware) restartLogin(w http.ResponseWriter, r *http.Request, s *session.Session, callbackURI string) Verdict {
	state, err := m.newState()
	if err != nil {
		m.logger.Error("unable to generate state", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return SessionFailure
	}
	var fields map[string]interface{}
	if state != "" {
		fields = map[string]interface{}{session.StateKey: state}
	}
	if err := m.handler.ReplaceSession(w, r, s, fields); err != nil {
		m.logger.Error("unable to replace session", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return SessionFailure
	}
	return m.redirectToProvider(w, r, state, callbackURI)
}

func (m *Middleware) redirectToProvider(w http.ResponseWriter, r *http.Request, state, callbackURI string) Verdict {
	authURL := m.handler.AuthURL(state, callbackURI)
	if authURL == "" {
		// no provider to send the browser to
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return RejectUnauthorized
	}
	http.Redirect(w, r, authURL, http.StatusFound)
	return RedirectToLogin
}

func (m *Middleware) newState() (string, error) {
	if !m.handler.StateControl() {
		return "", nil
	}
	return auth.NewState()
}

func (m *Middleware) pass(w http.ResponseWriter, r *http.Request, next http.Handler, base *url.URL, v Verdict) {
	ctx := context.WithValue(r.Context(), baseURLKey{}, base.String())
	ctx = context.WithValue(ctx, verdictKey{}, v)
	next.ServeHTTP(w, r.WithContext(ctx))
}
