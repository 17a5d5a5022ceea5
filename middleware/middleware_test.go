package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/authgate/authgate/auth"
	"github.com/authgate/authgate/jwt"
	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/pathmatch"
	"github.com/authgate/authgate/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	tp    *oidc.TestProvider
	h     *auth.Handler
	m     *Middleware
	store session.Store
	jar   *session.TestJar
	app   http.Handler
}

func newTestStore(t *testing.T) session.Store {
	t.Helper()
	store, err := session.NewServerSessionStore(session.NewMemoryBackend(), [][]byte{[]byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	return store
}

func newTestEnv(t *testing.T, handlerOpts []auth.Option, opt ...Option) *testEnv {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	p, err := oidc.NewProvider(context.Background(), tp.Config())
	require.NoError(err)
	ks, err := jwt.NewRemoteKeySet(p.WellKnown().JWKSURL, jwt.WithHTTPClient(p.HTTPClient()))
	require.NoError(err)
	v, err := jwt.NewValidator(ks, oidc.TestClientID, jwt.WithSupportedAlgorithms(jwt.ES256))
	require.NoError(err)

	store := newTestStore(t)
	h, err := auth.NewHandler(store, p, v, handlerOpts...)
	require.NoError(err)
	m, err := New(h, opt...)
	require.NoError(err)
	return &testEnv{tp: tp, h: h, m: m, store: store, jar: session.NewTestJar(), app: m.Wrap(testApp())}
}

func testApp() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base, _ := BaseURLFromContext(r.Context())
		_, _ = io.WriteString(w, "app "+base)
	})
}

func (e *testEnv) do(t *testing.T, method, target string, header http.Header) (*http.Response, string) {
	t.Helper()
	r := e.jar.Request(method, target, nil)
	for k, v := range header {
		r.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.app.ServeHTTP(rec, r)
	resp := rec.Result()
	e.jar.Update(resp)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *testEnv) load(t *testing.T) *session.Session {
	t.Helper()
	return session.TestLoad(t, e.store, e.jar)
}

func authRedirect(t *testing.T, tp *oidc.TestProvider, resp *http.Response) url.Values {
	t.Helper()
	require := require.New(t)
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	require.Equal(tp.Addr()+"/auth", loc.Scheme+"://"+loc.Host+loc.Path)
	return loc.Query()
}

func TestNew(t *testing.T) {
	t.Parallel()
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNilParameter)

	h, err := auth.NewBypassHandler(newTestStore(t))
	require.NoError(t, err)
	_, err = New(h, WithRedirectURI("/relative"))
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(h, WithRedirectURI("https://app.example.com"))
	require.NoError(t, err)
}

func TestMiddleware_Whitelist(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t, nil, WithWhitelist(pathmatch.MustCompile("^/public")))

	// a session holding a token that no longer validates is not even read
	session.TestWrite(t, e.store, e.jar, map[string]interface{}{
		session.TokenKey: oidc.TokenBundle{IDToken: "garbage"},
	})
	resp, body := e.do(t, http.MethodGet, "/public/logo.png", nil)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("app http://example.com/", body)
	assert.Empty(resp.Cookies())
	assert.True(e.load(t).Has(session.TokenKey))
}

func TestMiddleware_LoginFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t, nil)

	// first visit: redirected to the provider with a state that is also
	// stored in the session
	resp, _ := e.do(t, http.MethodGet, "/dashboard", nil)
	q := authRedirect(t, e.tp, resp)
	state := q.Get("state")
	require.NotEmpty(state)
	assert.Equal("http://example.com/oidc/callback", q.Get("redirect_uri"))
	assert.Equal(oidc.TestClientID, q.Get("client_id"))
	assert.Equal(state, e.load(t).GetString(session.StateKey))

	// the provider sends the browser back with a code and the state
	resp, _ = e.do(t, http.MethodGet, "/oidc/callback?code="+oidc.TestAuthCode+"&state="+state, nil)
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal("http://example.com/", resp.Header.Get("Location"))
	s := e.load(t)
	assert.False(s.Has(session.StateKey))
	assert.True(s.Has(session.TokenKey))
	assert.Equal(oidc.TestSubject, s.GetMap(session.DataKey)["sub"])
	assert.Equal(oidc.TestUsername, s.GetMap(session.UserKey)["preferred_username"])

	// logged in requests reach the application
	resp, body := e.do(t, http.MethodGet, "/dashboard", nil)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("app http://example.com/", body)
}

func TestMiddleware_CallbackRejected(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t, nil)
	session.TestWrite(t, e.store, e.jar, map[string]interface{}{session.StateKey: "xyz", "other": "value"})

	resp, _ := e.do(t, http.MethodGet, "/oidc/callback?code=not-valid&state=xyz", nil)
	q := authRedirect(t, e.tp, resp)
	require.NotEmpty(q.Get("state"))
	assert.NotEqual("xyz", q.Get("state"))

	s := e.load(t)
	assert.Equal(1, s.Len())
	assert.Equal(q.Get("state"), s.GetString(session.StateKey))
}

func TestMiddleware_CallbackWithoutCode(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	resp, _ := e.do(t, http.MethodGet, "/oidc/callback", nil)
	authRedirect(t, e.tp, resp)
	assert.False(t, e.load(t).Has(session.TokenKey))
}

func TestMiddleware_InvalidState(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t, nil)
	session.TestWrite(t, e.store, e.jar, map[string]interface{}{session.StateKey: "abc", "other": "value"})

	resp, body := e.do(t, http.MethodGet, "/oidc/callback?code="+oidc.TestAuthCode+"&state=xyz", nil)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	assert.Equal("Invalid state", strings.TrimSpace(body))
	assert.Equal(0, e.load(t).Len())
}

func TestMiddleware_StateControlOff(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t, []auth.Option{auth.WithStateControl(false)})

	resp, _ := e.do(t, http.MethodGet, "/dashboard", nil)
	q := authRedirect(t, e.tp, resp)
	assert.False(q.Has("state"))
	assert.Empty(resp.Cookies())

	// a stale nonce never blocks the callback
	session.TestWrite(t, e.store, e.jar, map[string]interface{}{session.StateKey: "abc"})
	resp, _ = e.do(t, http.MethodGet, "/oidc/callback?code="+oidc.TestAuthCode+"&state=xyz", nil)
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal("http://example.com/", resp.Header.Get("Location"))
	assert.True(e.load(t).Has(session.TokenKey))
}

func TestMiddleware_InvalidToken(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t, nil)
	e.tp.SetTokenTTL(-time.Minute)
	idToken, err := e.tp.IssueIDToken()
	require.NoError(err)
	session.TestWrite(t, e.store, e.jar, map[string]interface{}{
		session.TokenKey: oidc.TokenBundle{IDToken: idToken, AccessToken: "at"},
		session.UserKey:  map[string]interface{}{"preferred_username": oidc.TestUsername},
	})

	resp, _ := e.do(t, http.MethodGet, "/dashboard", nil)
	q := authRedirect(t, e.tp, resp)
	s := e.load(t)
	assert.Equal(1, s.Len())
	assert.Equal(q.Get("state"), s.GetString(session.StateKey))
}

func TestMiddleware_AbortOnUnauthorized(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t, nil, WithAbortOnUnauthorized(pathmatch.MustCompile("^/api/")))

	resp, body := e.do(t, http.MethodGet, "/api/items", nil)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.Equal("Unauthorized", strings.TrimSpace(body))

	resp, _ = e.do(t, http.MethodGet, "/apidocs", nil)
	authRedirect(t, e.tp, resp)
}

func TestMiddleware_CallbackPrefix(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t, nil, WithCallbackPrefix("/app"))
	assert.Equal("/app/oidc/callback", e.m.CallbackPath())

	resp, _ := e.do(t, http.MethodGet, "/dashboard", nil)
	q := authRedirect(t, e.tp, resp)
	assert.Equal("http://example.com/app/oidc/callback", q.Get("redirect_uri"))

	// paths that merely contain the callback path are not the callback
	for _, p := range []string{"/app/oidc/callback/extra", "/files/oidc/callback", "/oidc/callback"} {
		resp, body := e.do(t, http.MethodGet, p+"?code="+oidc.TestAuthCode, nil)
		q := authRedirect(t, e.tp, resp)
		assert.Equal("http://example.com/app/oidc/callback", q.Get("redirect_uri"), p)
		assert.NotContains(body, "app ", p)
	}
	assert.False(e.load(t).Has(session.TokenKey))
}

func TestMiddleware_CallbackLookalikeOnAbortList(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil, WithAbortOnUnauthorized(pathmatch.MustCompile("^/api/")))

	resp, body := e.do(t, http.MethodGet, "/api/oidc/callback/x", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized", strings.TrimSpace(body))
}

func TestMiddleware_DebugBypass(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	store := newTestStore(t)
	h, err := auth.NewBypassHandler(store)
	require.NoError(err)
	m, err := New(h,
		WithBeforeLogin(auth.DebugBypass{User: "debugger", Roles: []string{"admin"}}),
		WithRedirectURI("https://app.example.com/"),
	)
	require.NoError(err)
	e := &testEnv{h: h, m: m, store: store, jar: session.NewTestJar(), app: m.Wrap(testApp())}

	resp, _ := e.do(t, http.MethodGet, "/dashboard", nil)
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal("https://app.example.com/", resp.Header.Get("Location"))

	resp, body := e.do(t, http.MethodGet, "/dashboard", nil)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("app https://app.example.com/", body)
	assert.Equal("debugger", e.load(t).GetMap(session.UserKey)["preferred_username"])
}

func TestMiddleware_Metrics(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	reg := prometheus.NewRegistry()
	e := newTestEnv(t, nil, WithMetrics(reg), WithWhitelist(pathmatch.MustCompile("^/healthz$")))

	e.do(t, http.MethodGet, "/healthz", nil)
	e.do(t, http.MethodGet, "/healthz", nil)
	e.do(t, http.MethodGet, "/dashboard", nil)

	assert.Equal(float64(2), testutil.ToFloat64(e.m.verdicts.WithLabelValues(PassThrough.String())))
	assert.Equal(float64(1), testutil.ToFloat64(e.m.verdicts.WithLabelValues(RedirectToLogin.String())))

	// a second middleware on the same registry shares the counter
	m2, err := New(e.h, WithMetrics(reg))
	require.NoError(t, err)
	assert.Equal(e.m.verdicts, m2.verdicts)
}

func TestVerdictFromContext(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t, nil, WithWhitelist(pathmatch.MustCompile("^/public")))
	e.app = e.m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, ok := VerdictFromContext(r.Context())
		require.True(ok)
		_, _ = io.WriteString(w, v.String())
	}))

	// whitelisted paths are served without looking at the session, even one
	// holding a token that no longer validates
	session.TestWrite(t, e.store, e.jar, map[string]interface{}{
		session.TokenKey: oidc.TokenBundle{IDToken: "garbage"},
	})
	_, body := e.do(t, http.MethodGet, "/public/index.html", nil)
	assert.Equal(PassThrough.String(), body)

	resp, _ := e.do(t, http.MethodGet, "/dashboard", nil)
	q := authRedirect(t, e.tp, resp)
	resp, _ = e.do(t, http.MethodGet, "/oidc/callback?code="+oidc.TestAuthCode+"&state="+q.Get("state"), nil)
	require.Equal(http.StatusFound, resp.StatusCode)

	_, body = e.do(t, http.MethodGet, "/dashboard", nil)
	assert.Equal(AlreadyAuthenticated.String(), body)
	_, body = e.do(t, http.MethodGet, "/public/index.html", nil)
	assert.Equal(PassThrough.String(), body)

	_, ok := VerdictFromContext(context.Background())
	assert.False(ok)
}

func TestVerdict_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("redirect_to_login", RedirectToLogin.String())
	assert.Equal("reject_invalid_state", RejectInvalidState.String())
	assert.Equal("verdict(99)", Verdict(99).String())
}
