package session

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "authgate_session"

// DefaultMaxAge is the lifetime, in seconds, of a session that is not
// refreshed.
const DefaultMaxAge = 86400

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type options struct {
	withCookieName    string
	withCookieOptions sessions.Options
	withLogger        hclog.Logger
	withNowFunc       func() time.Time
}

// DefaultCookieOptions returns the cookie attributes used when none are
// provided.
func DefaultCookieOptions() sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   DefaultMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func defaults() options {
	return options{
		withCookieName:    DefaultCookieName,
		withCookieOptions: DefaultCookieOptions(),
		withLogger:        hclog.NewNullLogger(),
		withNowFunc:       time.Now,
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && name != "" {
			o.withCookieName = name
		}
	}
}

// WithCookieOptions overrides DefaultCookieOptions.
func WithCookieOptions(c sessions.Options) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withCookieOptions = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is, used for server-side expiry.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}
