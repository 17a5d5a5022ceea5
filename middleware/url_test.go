package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/authgate/authgate/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_BaseURL(t *testing.T) {
	t.Parallel()
	h, err := auth.NewBypassHandler(newTestStore(t))
	require.NoError(t, err)

	tests := []struct {
		name         string
		opts         []Option
		header       map[string]string
		tls          bool
		wantBase     string
		wantCallback string
	}{
		{
			name:         "request-host",
			wantBase:     "http://example.com/",
			wantCallback: "http://example.com/oidc/callback",
		},
		{
			name:         "tls",
			tls:          true,
			wantBase:     "https://example.com/",
			wantCallback: "https://example.com/oidc/callback",
		},
		{
			name: "forwarded-host",
			header: map[string]string{
				"X-Forwarded-Proto": "https",
				"X-Forwarded-Host":  "app.example.com",
			},
			wantBase:     "https://app.example.com/",
			wantCallback: "https://app.example.com/oidc/callback",
		},
		{
			name: "forwarded-server",
			header: map[string]string{
				"X-Forwarded-Proto":  "https",
				"X-Forwarded-Server": "edge.example.com",
			},
			wantBase:     "https://edge.example.com/",
			wantCallback: "https://edge.example.com/oidc/callback",
		},
		{
			name: "proxy-chain",
			header: map[string]string{
				"X-Forwarded-Proto": "https, http",
				"X-Forwarded-Host":  "app.example.com, internal.svc:8080",
			},
			wantBase:     "https://app.example.com/",
			wantCallback: "https://app.example.com/oidc/callback",
		},
		{
			name:         "override",
			opts:         []Option{WithRedirectURI("https://public.example.com/portal?x=1#frag"), WithCallbackPrefix("portal")},
			header:       map[string]string{"X-Forwarded-Host": "ignored.example.com"},
			wantBase:     "https://public.example.com/portal?x=1#frag",
			wantCallback: "https://public.example.com/portal/oidc/callback",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			m, err := New(h, tt.opts...)
			require.NoError(err)
			r := httptest.NewRequest(http.MethodGet, "/some/page?q=1", nil)
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			base := m.BaseURL(r)
			assert.Equal(tt.wantBase, base.String())
			assert.Equal(tt.wantCallback, m.CallbackURI(base))
		})
	}
}

func TestMiddleware_BaseURLIsCopied(t *testing.T) {
	t.Parallel()
	h, err := auth.NewBypassHandler(newTestStore(t))
	require.NoError(t, err)
	m, err := New(h, WithRedirectURI("https://public.example.com/"))
	require.NoError(t, err)

	base := m.BaseURL(httptest.NewRequest(http.MethodGet, "/", nil))
	base.Host = "changed.example.com"
	assert.Equal(t, "https://public.example.com/", m.BaseURL(httptest.NewRequest(http.MethodGet, "/", nil)).String())
	_, err = url.Parse(m.CallbackURI(base))
	require.NoError(t, err)
}

func TestCallbackPath(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("/oidc/callback", callbackPath(""))
	assert.Equal("/app/oidc/callback", callbackPath("/app"))
	assert.Equal("/app/oidc/callback", callbackPath("app/"))
}
