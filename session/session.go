// Package session holds the per-user session used by the authentication
// middleware and the stores that persist it between requests.
package session

import (
	"encoding/gob"
	"net/http"

	"github.com/authgate/authgate/oidc"
)

// Keys written by the authentication layer.
const (
	// TokenKey holds the provider's oidc.TokenBundle.
	TokenKey = "token"
	// DataKey holds the decoded ID token claims.
	DataKey = "data"
	// UserKey holds the user-info claims.
	UserKey = "user"
	// StateKey holds the anti-CSRF nonce of an authorization request in flight.
	StateKey = "state"
	// IntrospectKey holds role information written by the debug bypass.
	IntrospectKey = "introspect"
)

func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(nullValue{})
}

// Store loads and persists sessions. Implementations must isolate requests
// from each other; callers do a single read-modify-write per request.
type Store interface {
	// Open returns the request's session, or an empty one when the request
	// carries none.
	Open(r *http.Request) (*Session, error)

	// Save persists s onto the response. An empty session removes the
	// persisted one. A key holding nil is not persisted; nils nested in maps
	// and slices, such as null claims, are kept.
	Save(w http.ResponseWriter, r *http.Request, s *Session) error
}

// Session is a mapping from string keys to values. It is not safe for
// concurrent use.
type Session struct {
	values map[string]interface{}
	isNew  bool
	renew  bool
}

// New returns an empty session.
func New() *Session {
	return &Session{values: map[string]interface{}{}, isNew: true}
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (interface{}, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the string stored under key, or "" if there is none.
func (s *Session) GetString(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// GetMap returns the map stored under key, or nil if there is none.
func (s *Session) GetMap(key string) map[string]interface{} {
	v, _ := s.values[key].(map[string]interface{})
	return v
}

// Token returns the token bundle stored under TokenKey.
func (s *Session) Token() (oidc.TokenBundle, bool) {
	switch t := s.values[TokenKey].(type) {
	case oidc.TokenBundle:
		return t, true
	case *oidc.TokenBundle:
		if t != nil {
			return *t, true
		}
	}
	return oidc.TokenBundle{}, false
}

// Has reports whether key is present.
func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Set stores v under key.
func (s *Session) Set(key string, v interface{}) {
	s.values[key] = v
}

// Merge stores every entry of fields.
func (s *Session) Merge(fields map[string]interface{}) {
	for k, v := range fields {
		s.values[k] = v
	}
}

// Delete removes key.
func (s *Session) Delete(key string) {
	delete(s.values, key)
}

// Clear removes every key.
func (s *Session) Clear() {
	s.values = map[string]interface{}{}
}

// Len returns the number of keys.
func (s *Session) Len() int {
	return len(s.values)
}

// Values returns a shallow copy of the session contents.
func (s *Session) Values() map[string]interface{} {
	ret := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		ret[k] = v
	}
	return ret
}

// IsNew reports whether the session was created for this request rather than
// loaded.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Renew asks the store to issue a new session identifier on the next save.
// Stores without identifiers ignore it.
func (s *Session) Renew() {
	s.renew = true
}

// nullValue stands in for a nil nested in a map or slice, which gob cannot
// encode inside an interface. It never escapes the stores.
type nullValue struct {
	Null bool
}

// encodeValue replaces nils nested in maps and slices with nullValue.
func encodeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nullValue{Null: true}
	case map[string]interface{}:
		ret := make(map[string]interface{}, len(t))
		for k, e := range t {
			ret[k] = encodeValue(e)
		}
		return ret
	case []interface{}:
		ret := make([]interface{}, len(t))
		for i, e := range t {
			ret[i] = encodeValue(e)
		}
		return ret
	default:
		return v
	}
}

// decodeValue reverses encodeValue.
func decodeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nullValue:
		return nil
	case map[string]interface{}:
		for k, e := range t {
			t[k] = decodeValue(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = decodeValue(e)
		}
		return t
	default:
		return v
	}
}
