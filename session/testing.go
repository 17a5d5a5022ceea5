package session

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestJar carries cookies from one test response to the next request, the way
// a browser would.
type TestJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

// NewTestJar returns an empty TestJar.
func NewTestJar() *TestJar {
	return &TestJar{cookies: map[string]*http.Cookie{}}
}

// Request builds a request carrying the jar's cookies.
func (j *TestJar) Request(method, target string, body io.Reader) *http.Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	r := httptest.NewRequest(method, target, body)
	for _, c := range j.cookies {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return r
}

// Update applies the Set-Cookie headers of resp.
func (j *TestJar) Update(resp *http.Response) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(j.cookies, c.Name)
			continue
		}
		j.cookies[c.Name] = c
	}
}

// Cookie returns the named cookie, or nil.
func (j *TestJar) Cookie(name string) *http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies[name]
}

// Len returns the number of cookies held.
func (j *TestJar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cookies)
}

// TestLoad opens the session the jar currently points at.
func TestLoad(t *testing.T, store Store, jar *TestJar) *Session {
	t.Helper()
	s, err := store.Open(jar.Request(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return s
}

// TestWrite stores fields in a fresh request and applies the response cookies
// to jar.
func TestWrite(t *testing.T, store Store, jar *TestJar, fields map[string]interface{}) {
	t.Helper()
	r := jar.Request(http.MethodGet, "/", nil)
	s, err := store.Open(r)
	require.NoError(t, err)
	s.Merge(fields)
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(rec, r, s))
	jar.Update(rec.Result())
}
