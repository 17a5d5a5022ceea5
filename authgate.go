package authgate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/authgate/authgate/auth"
	"github.com/authgate/authgate/jwt"
	"github.com/authgate/authgate/middleware"
	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/pathmatch"
	"github.com/authgate/authgate/routes"
	"github.com/authgate/authgate/session"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// boltLockTimeout bounds the wait for a bolt file held by another process.
const boltLockTimeout = 5 * time.Second

// Gate is a configured authentication front for one application.
type Gate struct {
	handler    *auth.Handler
	middleware *middleware.Middleware
	routes     *routes.Routes
	provider   *oidc.Provider
	keys       *jwt.RemoteKeySet
	backend    session.Backend
	logger     hclog.Logger
}

// New builds a Gate from c. Unless c names a debug user, the provider is
// discovered and its signing keys are fetched before New returns; a provider
// that cannot be discovered is an error.
//
// Supported options: WithLogger, WithSessionStore, WithRegisterer
func New(ctx context.Context, c *Config, opt ...Option) (*Gate, error) {
	const op = "authgate.New"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	cfg := *c
	if cfg.ProviderCA == "" && cfg.ProviderCAFile != "" {
		pem, err := os.ReadFile(cfg.ProviderCAFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read provider CA: %w", op, err)
		}
		cfg.ProviderCA = string(pem)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger
	g := &Gate{logger: logger}

	store := opts.withSessionStore
	if store == nil {
		var err error
		if store, err = g.openStore(&cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	var before auth.BeforeLogin = auth.NoBeforeLogin{}
	if cfg.Bypass() {
		logger.Warn("authentication is disabled, every visitor is logged in as the debug user", "user", cfg.DebugUser, "roles", cfg.DebugRoles)
		h, err := auth.NewBypassHandler(store,
			auth.WithStateControl(cfg.StateControl),
			auth.WithLogger(logger.Named("auth")),
		)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		g.handler = h
		before = auth.DebugBypass{User: cfg.DebugUser, Roles: cfg.DebugRoles}
	} else {
		if err := g.connect(ctx, &cfg, store, opts); err != nil {
			g.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	rt, err := routes.New(g.handler,
		routes.WithLoginPath(cfg.LoginPath),
		routes.WithLogoutPath(cfg.LogoutPath),
		routes.WithHeartbeatPath(cfg.HeartbeatPath),
		routes.WithLogger(logger.Named("routes")),
	)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	g.routes = rt

	// both lists were checked by Validate
	whitelist, _ := pathmatch.Compile(cfg.Whitelist)
	abort, _ := pathmatch.Compile(cfg.AbortOnUnauthorized)
	m, err := middleware.New(g.handler,
		middleware.WithRedirectURI(cfg.RedirectURI),
		middleware.WithWhitelist(whitelist),
		middleware.WithWhitelist(rt.Whitelist()),
		middleware.WithAbortOnUnauthorized(abort),
		middleware.WithCallbackPrefix(cfg.CallbackPrefix),
		middleware.WithBeforeLogin(before),
		middleware.WithLogger(logger.Named("middleware")),
		middleware.WithMetrics(opts.withRegisterer),
	)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	g.middleware = m
	return g, nil
}

// connect discovers the provider, primes its key set and creates the auth
// handler.
func (g *Gate) connect(ctx context.Context, cfg *Config, store session.Store, opts options) error {
	p, err := oidc.NewProvider(ctx, cfg.ProviderConfig(), oidc.WithLogger(g.logger.Named("oidc")))
	if err != nil {
		return err
	}
	md := p.WellKnown()

	ks, err := jwt.NewRemoteKeySet(md.JWKSURL,
		jwt.WithHTTPClient(p.HTTPClient()),
		jwt.WithLogger(g.logger.Named("jwks")),
		jwt.WithRegisterer(opts.withRegisterer),
	)
	if err != nil {
		return err
	}
	if err := ks.Refresh(ctx); err != nil {
		// keys are fetched again on the first token that needs them
		g.logger.Warn("unable to fetch signing keys at startup", "jwks_url", md.JWKSURL, "error", err)
	}

	v, err := jwt.NewValidator(ks, cfg.ClientID,
		jwt.WithSupportedAlgorithms(jwt.ParseAlgs(md.IDTokenSigningAlgs)...),
		jwt.WithIssuer(md.Issuer),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithLogger(g.logger.Named("jwt")),
	)
	if err != nil {
		return err
	}

	h, err := auth.NewHandler(store, p, v,
		auth.WithStateControl(cfg.StateControl),
		auth.WithLogger(g.logger.Named("auth")),
	)
	if err != nil {
		return err
	}
	g.provider, g.keys, g.handler = p, ks, h
	return nil
}

// openStore creates the session store named by cfg. The signing key falls
// back to the client secret, then to a random key that does not survive a
// restart.
func (g *Gate) openStore(cfg *Config) (session.Store, error) {
	const op = "Gate.openStore"
	hashKey := []byte(cfg.SessionKey)
	if len(hashKey) == 0 {
		hashKey = []byte(cfg.ClientSecret)
	}
	if len(hashKey) == 0 {
		var err error
		if hashKey, err = uuid.GenerateRandomBytes(32); err != nil {
			return nil, fmt.Errorf("%s: unable to generate session key: %w", op, err)
		}
		g.logger.Warn("no session key configured, sessions will not survive a restart")
	}
	keyPair := [][]byte{hashKey}
	if cfg.SessionEncryptionKey != "" {
		keyPair = append(keyPair, []byte(cfg.SessionEncryptionKey))
	}

	cookieOpts := session.DefaultCookieOptions()
	cookieOpts.Secure = strings.HasPrefix(cfg.RedirectURI, "https://")
	sessOpts := []session.Option{
		session.WithCookieOptions(cookieOpts),
		session.WithLogger(g.logger.Named("session")),
	}

	var (
		backend session.Backend
		err     error
	)
	switch cfg.SessionStore {
	case "", SessionStoreCookie:
		var blockKey []byte
		if len(keyPair) > 1 {
			blockKey = keyPair[1]
		}
		return session.NewCookieStore(hashKey, blockKey, sessOpts...)
	case SessionStoreMemory:
		backend = session.NewMemoryBackend()
	case SessionStoreBolt:
		backend, err = session.OpenBoltBackend(cfg.SessionDSN, boltLockTimeout)
	case SessionStoreSQLite:
		backend, err = session.OpenSQLiteBackend(cfg.SessionDSN)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	store, err := session.NewServerSessionStore(backend, keyPair, sessOpts...)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	g.backend = backend
	return store, nil
}

// Wrap returns app guarded by the gate, with the login, logout and heartbeat
// routes mounted next to it.
func (g *Gate) Wrap(app http.Handler) http.Handler {
	return g.routes.Router(g.middleware, app)
}

// Handler returns the gate's auth handler.
func (g *Gate) Handler() *auth.Handler { return g.handler }

// Middleware returns the gate's middleware, for hosts that mount routes
// themselves.
func (g *Gate) Middleware() *middleware.Middleware { return g.middleware }

// Provider returns the discovered provider, or nil when authentication is
// bypassed.
func (g *Gate) Provider() *oidc.Provider { return g.provider }

// KeySet returns the provider's signing key set, or nil when authentication
// is bypassed.
func (g *Gate) KeySet() *jwt.RemoteKeySet { return g.keys }

// SessionBackend returns the server side session backend, or nil when
// sessions live in cookies or in a store given with WithSessionStore.
func (g *Gate) SessionBackend() session.Backend { return g.backend }

// Close releases the session backend.
func (g *Gate) Close() error {
	if g.backend == nil {
		return nil
	}
	return g.backend.Close()
}
