// Package routes binds the login, logout and heartbeat endpoints next to a
// protected application on a chi router.
package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/authgate/authgate/auth"
	"github.com/authgate/authgate/middleware"
	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/pathmatch"
	"github.com/authgate/authgate/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
)

// HeartbeatBody is the fixed answer of the heartbeat route.
const HeartbeatBody = "Chuck Norris can kill two stones with one bird."

const missingCredentials = "No username and/or password was specified in request"

// maxCredentialsSize bounds the login request body.
const maxCredentialsSize = 64 << 10

const loginForm = `<form method="post">` +
	`<input type="text" name="username" id="un" title="username" placeholder="username"/>` +
	`<input type="password" name="password" id="pw" title="password" placeholder="password"/>` +
	`<button type="submit">Login</button>` +
	`</form>`

// Routes serves the authentication endpoints.
type Routes struct {
	handler       *auth.Handler
	loginPath     string
	logoutPath    string
	heartbeatPath string
	logger        hclog.Logger
}

// New creates the authentication routes backed by h.
//
// Supported options: WithLoginPath, WithLogoutPath, WithHeartbeatPath,
// WithLogger
func New(h *auth.Handler, opt ...Option) (*Routes, error) {
	const op = "routes.New"
	if h == nil {
		return nil, fmt.Errorf("%s: auth handler is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	for _, p := range []string{opts.withLoginPath, opts.withLogoutPath, opts.withHeartbeatPath} {
		if p != "" && !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("%s: route %q must start with a slash: %w", op, p, ErrInvalidParameter)
		}
	}
	return &Routes{
		handler:       h,
		loginPath:     opts.withLoginPath,
		logoutPath:    opts.withLogoutPath,
		heartbeatPath: opts.withHeartbeatPath,
		logger:        opts.withLogger,
	}, nil
}

// Whitelist returns the routes that must be reachable without a login, the
// login form and the heartbeat. Hand it to the middleware with
// middleware.WithWhitelist.
func (rt *Routes) Whitelist() pathmatch.Patterns {
	var p pathmatch.Patterns
	for _, path := range []string{rt.loginPath, rt.heartbeatPath} {
		if path != "" {
			p = append(p, pathmatch.MustCompile(pathmatch.Exact(path))...)
		}
	}
	return p
}

// Router returns a router that runs m in front of every request, serves the
// authentication routes and hands everything else to app.
func (rt *Routes) Router(m *middleware.Middleware, app http.Handler) chi.Router {
	if app == nil {
		app = http.NotFoundHandler()
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if m != nil {
		r.Use(m.Wrap)
	}

	if rt.logoutPath != "" {
		r.Get(rt.logoutPath, rt.logout(m))
		r.Post(rt.logoutPath, rt.logout(m))
	}
	if rt.loginPath != "" {
		r.Get(rt.loginPath, rt.loginForm(m))
		r.Post(rt.loginPath, rt.login(m))
	}
	if rt.heartbeatPath != "" {
		r.Get(rt.heartbeatPath, heartbeat)
	}
	r.NotFound(app.ServeHTTP)
	r.MethodNotAllowed(app.ServeHTTP)
	return r
}

func baseURL(m *middleware.Middleware, r *http.Request) string {
	if u, ok := middleware.BaseURLFromContext(r.Context()); ok {
		return u
	}
	if m != nil {
		return m.BaseURL(r).String()
	}
	return "/"
}

func (rt *Routes) logout(m *middleware.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := rt.handler.Open(r)
		if err != nil {
			rt.logger.Error("unable to open session", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if err := rt.handler.Logout(w, r, s); err != nil {
			rt.logger.Error("unable to log out", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, baseURL(m, r), http.StatusFound)
	}
}

func (rt *Routes) loginForm(m *middleware.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := rt.handler.Open(r)
		if err != nil {
			rt.logger.Error("unable to open session", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if s.Has(session.UserKey) {
			http.Redirect(w, r, baseURL(m, r), http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(loginForm))
	}
}

func (rt *Routes) login(m *middleware.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := rt.handler.Open(r)
		if err != nil {
			rt.logger.Error("unable to open session", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if s.Has(session.UserKey) {
			http.Redirect(w, r, baseURL(m, r), http.StatusFound)
			return
		}

		username, password, ok := readCredentials(w, r)
		if !ok {
			http.Error(w, missingCredentials, http.StatusBadRequest)
			return
		}
		err = rt.handler.Login(w, r, s, oidc.PasswordGrant(username, password))
		var le *auth.LoginError
		switch {
		case errors.As(err, &le):
			rt.logger.Debug("direct grant login failed", "kind", le.Kind, "status", le.StatusCode)
			le.WriteResponse(w)
			return
		case err != nil:
			rt.logger.Error("direct grant login failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, baseURL(m, r), http.StatusFound)
	}
}

// readCredentials takes the username and password from a form or a JSON
// body. It reports false when neither is present.
func readCredentials(w http.ResponseWriter, r *http.Request) (username, password string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCredentialsSize)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return "", "", false
		}
		return creds.Username, creds.Password, creds.Username != "" || creds.Password != ""
	}
	if err := r.ParseForm(); err != nil {
		return "", "", false
	}
	_, hasUser := r.PostForm["username"]
	_, hasPassword := r.PostForm["password"]
	return r.PostForm.Get("username"), r.PostForm.Get("password"), hasUser || hasPassword
}

func heartbeat(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(HeartbeatBody))
}
