package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// Backend persists encoded session records.
type Backend interface {
	// Load returns the record for id. It returns ErrNotFound for unknown or
	// expired records.
	Load(ctx context.Context, id string, now time.Time) ([]byte, error)
	// Save creates or replaces the record for id.
	Save(ctx context.Context, id string, data []byte, expires time.Time) error
	// Delete removes the record for id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Cleanup removes records that expired before now and returns how many
	// were removed.
	Cleanup(ctx context.Context, now time.Time) (int, error)
	// Close releases the backend's resources.
	Close() error
}

// ServerStore is a gorilla sessions.Store that keeps session values in a
// Backend and only a signed session id in the cookie. Values are encoded with
// the same codecs as the cookie, so they are authenticated at rest.
type ServerStore struct {
	Codecs  []securecookie.Codec
	Options *sessions.Options

	backend Backend
	now     func() time.Time
	logger  hclog.Logger
}

var _ sessions.Store = (*ServerStore)(nil)

// NewServerStore returns a ServerStore persisting to backend. Keys are used as
// in sessions.NewCookieStore.
//
// Supported options: WithCookieOptions, WithLogger, WithNow
func NewServerStore(backend Backend, keyPairs [][]byte, opt ...Option) (*ServerStore, error) {
	const op = "session.NewServerStore"
	if backend == nil {
		return nil, fmt.Errorf("%s: backend is nil: %w", op, ErrNilParameter)
	}
	if len(keyPairs) == 0 || len(keyPairs[0]) == 0 {
		return nil, fmt.Errorf("%s: hash key is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	cookieOpts := opts.withCookieOptions
	s := &ServerStore{
		Codecs:  securecookie.CodecsFromPairs(keyPairs...),
		Options: &cookieOpts,
		backend: backend,
		now:     opts.withNowFunc,
		logger:  opts.withLogger,
	}
	s.MaxAge(cookieOpts.MaxAge)
	for _, c := range s.Codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			// records are not bound by browser cookie limits
			sc.MaxLength(0)
		}
	}
	return s, nil
}

// NewServerSessionStore is a convenience returning a Store backed by a
// ServerStore.
func NewServerSessionStore(backend Backend, keyPairs [][]byte, opt ...Option) (*GorillaStore, error) {
	ss, err := NewServerStore(backend, keyPairs, opt...)
	if err != nil {
		return nil, err
	}
	return NewGorillaStore(ss, opt...)
}

// Get returns a session for the given name after adding it to the registry.
func (s *ServerStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns a session for the given name without adding it to the registry.
// Unknown or expired records yield a new session with no id.
func (s *ServerStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, errCookie := r.Cookie(name)
	if errCookie != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, c.Value, &session.ID, s.Codecs...); err != nil {
		return session, err
	}
	data, err := s.backend.Load(r.Context(), session.ID, s.now())
	switch {
	case errors.Is(err, ErrNotFound):
		session.ID = ""
		return session, nil
	case err != nil:
		return session, err
	}
	if err := securecookie.DecodeMulti(name, string(data), &session.Values, s.Codecs...); err != nil {
		return session, err
	}
	session.IsNew = false
	return session, nil
}

// Save adds a single session to the response. A negative MaxAge deletes the
// record and the cookie.
func (s *ServerStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx := r.Context()
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.backend.Delete(ctx, session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return fmt.Errorf("unable to generate session id: %w", err)
		}
		session.ID = id
	}
	data, err := securecookie.EncodeMulti(session.Name(), session.Values, s.Codecs...)
	if err != nil {
		return err
	}
	maxAge := session.Options.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	expires := s.now().Add(time.Duration(maxAge) * time.Second)
	if err := s.backend.Save(ctx, session.ID, []byte(data), expires); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Destroy removes the record for id.
func (s *ServerStore) Destroy(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, id)
}

// MaxAge sets the maximum age for the store and the underlying cookie
// implementation. Individual sessions can be deleted by setting
// Options.MaxAge = -1 for that session.
func (s *ServerStore) MaxAge(age int) {
	s.Options.MaxAge = age
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

// RunCleanup removes expired records from backend every interval until ctx is
// done.
func RunCleanup(ctx context.Context, backend Backend, interval time.Duration, logger hclog.Logger) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := backend.Cleanup(ctx, now)
			if err != nil {
				logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("removed expired sessions", "count", n)
			}
		}
	}
}
