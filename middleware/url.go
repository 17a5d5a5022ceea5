package middleware

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// CallbackPath is where the provider sends the browser back to, below the
// configured callback prefix.
const CallbackPath = "/oidc/callback"

type baseURLKey struct{}

// BaseURLFromContext returns the externally visible base URL of the request,
// as seen by the middleware. It is set for every request handed to the wrapped
// application.
func BaseURLFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(baseURLKey{}).(string)
	return u, ok
}

func callbackPath(prefix string) string {
	return path.Join("/", prefix, CallbackPath)
}

// BaseURL returns the externally visible base URL for r: the configured
// redirect URI if there is one, otherwise the scheme and host seen by the
// client, taken from the forwarding headers before the request itself.
func (m *Middleware) BaseURL(r *http.Request) *url.URL {
	if m.redirectURI != nil {
		u := *m.redirectURI
		return &u
	}
	scheme := firstValue(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := firstValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = firstValue(r.Header.Get("X-Forwarded-Server"))
	}
	if host == "" {
		host = r.Host
	}
	return &url.URL{Scheme: scheme, Host: host, Path: "/"}
}

// CallbackURI returns the redirect URI registered with the provider for
// requests arriving at base.
func (m *Middleware) CallbackURI(base *url.URL) string {
	u := *base
	u.Path = m.callbackPath
	u.RawPath = ""
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// CallbackPath returns the request path of the provider callback.
func (m *Middleware) CallbackPath() string { return m.callbackPath }

// firstValue returns the first entry of a comma separated header added by a
// chain of proxies.
func firstValue(h string) string {
	if i := strings.IndexByte(h, ','); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSpace(h)
}
