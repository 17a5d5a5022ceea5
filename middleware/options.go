package middleware

import (
	"github.com/authgate/authgate/auth"
	"github.com/authgate/authgate/pathmatch"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

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
	withRedirectURI    string
	withWhitelist      pathmatch.Patterns
	withAbort          pathmatch.Patterns
	withCallbackPrefix string
	withBeforeLogin    auth.BeforeLogin
	withLogger         hclog.Logger
	withRegisterer     prometheus.Registerer
}

func getDefaults() options {
	return options{
		withBeforeLogin: auth.NoBeforeLogin{},
		withLogger:      hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRedirectURI fixes the externally visible base URL instead of deriving it
// from each request.
func WithRedirectURI(uri string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRedirectURI = uri
		}
	}
}

// WithWhitelist adds paths that bypass authentication entirely. It may be
// given more than once.
func WithWhitelist(p pathmatch.Patterns) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withWhitelist = append(o.withWhitelist, p...)
		}
	}
}

// WithAbortOnUnauthorized adds paths that answer 401 instead of redirecting
// unauthenticated requests to the provider. It may be given more than once.
func WithAbortOnUnauthorized(p pathmatch.Patterns) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAbort = append(o.withAbort, p...)
		}
	}
}

// WithCallbackPrefix places the provider callback under prefix.
func WithCallbackPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withCallbackPrefix = prefix
		}
	}
}

// WithBeforeLogin runs hook for requests that are not logged in.
func WithBeforeLogin(hook auth.BeforeLogin) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && hook != nil {
			o.withBeforeLogin = hook
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

// WithMetrics registers the verdict counter with r.
func WithMetrics(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRegisterer = r
		}
	}
}
