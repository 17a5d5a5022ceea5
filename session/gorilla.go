package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
)

// destroyer is implemented by stores that keep session records server side.
type destroyer interface {
	Destroy(ctx context.Context, id string) error
}

// GorillaStore adapts any gorilla sessions.Store to Store.
type GorillaStore struct {
	store   sessions.Store
	name    string
	options sessions.Options
	logger  hclog.Logger
}

var _ Store = (*GorillaStore)(nil)

// NewGorillaStore wraps store. Cookie attributes set with WithCookieOptions
// are applied on every save.
//
// Supported options: WithCookieName, WithCookieOptions, WithLogger
func NewGorillaStore(store sessions.Store, opt ...Option) (*GorillaStore, error) {
	const op = "session.NewGorillaStore"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &GorillaStore{
		store:   store,
		name:    opts.withCookieName,
		options: opts.withCookieOptions,
		logger:  opts.withLogger,
	}, nil
}

// NewCookieStore returns a Store that keeps the whole session in a signed
// and, when a second key is given, encrypted cookie. Browsers cap cookies at
// about 4KB, which an ID token plus claims can exceed; prefer a ServerStore
// for providers issuing large tokens.
//
// Supported options: WithCookieName, WithCookieOptions, WithLogger
func NewCookieStore(hashKey, blockKey []byte, opt ...Option) (*GorillaStore, error) {
	const op = "session.NewCookieStore"
	if len(hashKey) == 0 {
		return nil, fmt.Errorf("%s: hash key is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	var cs *sessions.CookieStore
	if len(blockKey) > 0 {
		cs = sessions.NewCookieStore(hashKey, blockKey)
	} else {
		cs = sessions.NewCookieStore(hashKey)
	}
	cookieOpts := opts.withCookieOptions
	cs.Options = &cookieOpts
	cs.MaxAge(cookieOpts.MaxAge)
	return NewGorillaStore(cs, opt...)
}

// Open implements Store. A cookie that no longer decodes, for example after a
// key rotation, yields an empty session.
func (g *GorillaStore) Open(r *http.Request) (*Session, error) {
	const op = "GorillaStore.Open"
	gs, err := g.store.Get(r, g.name)
	if err != nil {
		if !isStaleCookie(err) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		g.logger.Debug("ignoring undecodable session cookie", "error", err)
	}
	s := New()
	if gs == nil {
		return s, nil
	}
	s.isNew = gs.IsNew
	for k, v := range gs.Values {
		if key, ok := k.(string); ok {
			s.values[key] = decodeValue(v)
		}
	}
	return s, nil
}

// Save implements Store. Nothing is written when the request has already been
// canceled.
func (g *GorillaStore) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	const op = "GorillaStore.Save"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if err := r.Context().Err(); err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrRequestCanceled, err)
	}
	gs, err := g.store.Get(r, g.name)
	if err != nil && !isStaleCookie(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if gs == nil {
		gs = sessions.NewSession(g.store, g.name)
	}

	if s.renew && gs.ID != "" {
		if d, ok := g.store.(destroyer); ok {
			if err := d.Destroy(r.Context(), gs.ID); err != nil {
				g.logger.Warn("unable to destroy renewed session", "error", err)
			}
		}
		gs.ID = ""
	}

	gs.Values = make(map[interface{}]interface{}, len(s.values))
	for k, v := range s.values {
		if v == nil {
			continue
		}
		gs.Values[k] = encodeValue(v)
	}
	opts := g.options
	if len(gs.Values) == 0 {
		opts.MaxAge = -1
	}
	gs.Options = &opts

	if err := g.store.Save(r, w, gs); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.renew = false
	s.isNew = false
	return nil
}

func isStaleCookie(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var scErr securecookie.Error
	return errors.As(err, &scErr) && scErr.IsDecode()
}
