package authgate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/authgate/authgate/middleware"
	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base, _ := middleware.BaseURLFromContext(r.Context())
		_, _ = io.WriteString(w, "app "+r.URL.Path+" "+base)
	})
}

func testConfig(tp *oidc.TestProvider) *Config {
	pc := tp.Config()
	c := DefaultConfig()
	c.ProviderURL = pc.ProviderURL
	c.ClientID = pc.ClientID
	c.ClientSecret = pc.ClientSecret
	c.ProviderCA = pc.ProviderCA
	c.LoginPath = "/login"
	c.HeartbeatPath = "/healthz"
	c.SessionStore = SessionStoreMemory
	return c
}

func do(t *testing.T, h http.Handler, jar *session.TestJar, method, target, body string) (*http.Response, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	r := jar.Request(method, target, rdr)
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	resp := rec.Result()
	jar.Update(resp)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestNew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil-config", func(t *testing.T) {
		t.Parallel()
		_, err := New(ctx, nil)
		require.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		t.Parallel()
		_, err := New(ctx, DefaultConfig())
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("missing-ca-file", func(t *testing.T) {
		t.Parallel()
		c := DefaultConfig()
		c.ProviderURL, c.ClientID = "https://sso.example.com", "portal"
		c.ProviderCAFile = filepath.Join(t.TempDir(), "ca.pem")
		_, err := New(ctx, c)
		require.Error(t, err)
	})
	t.Run("discovery-failure", func(t *testing.T) {
		t.Parallel()
		tp := oidc.StartTestProvider(t)
		c := testConfig(tp)
		c.Realm = "missing"
		_, err := New(ctx, c)
		require.ErrorIs(t, err, oidc.ErrDiscoveryFailed)
	})
	t.Run("ca-file", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		c := testConfig(tp)
		c.ProviderCA = ""
		c.ProviderCAFile = writeFile(t, "ca.pem", tp.CACert())
		g, err := New(ctx, c)
		require.NoError(err)
		defer g.Close()
		assert.NotNil(g.Provider())
		// config is not modified
		assert.Empty(c.ProviderCA)
	})
}

func TestGate_PasswordLogin(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)
	reg := prometheus.NewRegistry()
	g, err := New(context.Background(), testConfig(tp), WithRegisterer(reg))
	require.NoError(err)
	defer g.Close()

	// keys were fetched before the first request
	assert.Equal(1, tp.CertsRequests())
	assert.NotNil(g.KeySet())
	assert.NotNil(g.SessionBackend())
	assert.False(g.Handler().Bypass())

	h, jar := g.Wrap(testApp()), session.NewTestJar()

	resp, body := do(t, h, jar, http.MethodGet, "/healthz", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, "Chuck Norris")

	resp, _ = do(t, h, jar, http.MethodGet, "/dashboard", "")
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.True(strings.HasPrefix(resp.Header.Get("Location"), tp.Addr()+"/auth?"))

	resp, _ = do(t, h, jar, http.MethodPost, "/login", `{"username":"alice","password":"wonderland"}`)
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal("http://example.com/", resp.Header.Get("Location"))

	resp, body = do(t, h, jar, http.MethodGet, "/dashboard", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("app /dashboard http://example.com/", body)

	n, err := testutil.GatherAndCount(reg, "authgate_middleware_verdicts_total")
	require.NoError(err)
	assert.Equal(3, n) // pass_through, redirect_to_login, already_authenticated
	n, err = testutil.GatherAndCount(reg, "authgate_jwks_refresh_total")
	require.NoError(err)
	assert.Equal(1, n)

	resp, _ = do(t, h, jar, http.MethodPost, "/logout", "")
	assert.Equal(http.StatusFound, resp.StatusCode)
	assert.Len(tp.LogoutRefreshTokens(), 1)
}

func TestGate_SessionStores(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		store       string
		dsn         func(t *testing.T) string
		wantBackend bool
	}{
		{name: "cookie", store: SessionStoreCookie},
		{name: "memory", store: SessionStoreMemory, wantBackend: true},
		{
			name:        "bolt",
			store:       SessionStoreBolt,
			dsn:         func(t *testing.T) string { return filepath.Join(t.TempDir(), "sessions.db") },
			wantBackend: true,
		},
		{
			name:        "sqlite",
			store:       SessionStoreSQLite,
			dsn:         func(t *testing.T) string { return filepath.Join(t.TempDir(), "sessions.sqlite") },
			wantBackend: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			c := DefaultConfig()
			c.DebugUser = "dev"
			c.DebugRoles = []string{"admin"}
			c.SessionKey = "0123456789abcdef0123456789abcdef"
			c.SessionStore = tt.store
			if tt.dsn != nil {
				c.SessionDSN = tt.dsn(t)
			}
			g, err := New(context.Background(), c)
			require.NoError(err)
			defer func() { assert.NoError(g.Close()) }()
			assert.Equal(tt.wantBackend, g.SessionBackend() != nil)

			h, jar := g.Wrap(testApp()), session.NewTestJar()
			resp, _ := do(t, h, jar, http.MethodGet, "/dashboard", "")
			require.Equal(http.StatusFound, resp.StatusCode)
			resp, body := do(t, h, jar, http.MethodGet, "/dashboard", "")
			assert.Equal(http.StatusOK, resp.StatusCode)
			assert.Equal("app /dashboard http://example.com/", body)
		})
	}
}

func TestGate_DebugUser(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := DefaultConfig()
	c.DebugUser = "dev"
	c.DebugRoles = []string{"admin", "viewer"}
	c.RedirectURI = "https://app.example.com/"
	c.SessionStore = SessionStoreMemory
	store, err := session.NewServerSessionStore(session.NewMemoryBackend(), [][]byte{[]byte("0123456789abcdef0123456789abcdef")})
	require.NoError(err)

	g, err := New(context.Background(), c, WithSessionStore(store))
	require.NoError(err)
	assert.True(g.Handler().Bypass())
	assert.Nil(g.Provider())
	assert.Nil(g.KeySet())
	// the store was supplied, so the gate owns no backend
	assert.Nil(g.SessionBackend())

	h, jar := g.Wrap(testApp()), session.NewTestJar()
	resp, _ := do(t, h, jar, http.MethodGet, "/reports", "")
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal("https://app.example.com/", resp.Header.Get("Location"))

	s := session.TestLoad(t, store, jar)
	assert.Equal("dev", s.GetMap(session.UserKey)["preferred_username"])
	tk, ok := s.Token()
	require.True(ok)
	assert.Equal("DEBUG_TOKEN", tk.AccessToken)

	resp, body := do(t, h, jar, http.MethodGet, "/reports", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("app /reports https://app.example.com/", body)
}
