package auth

import (
	"github.com/authgate/authgate/oidc"
	"github.com/hashicorp/go-hclog"
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

type handlerOptions struct {
	withStateControl bool
	withScope        string
	withLogger       hclog.Logger
}

func handlerDefaults() handlerOptions {
	return handlerOptions{
		withStateControl: true,
		withScope:        oidc.ScopeOpenID,
		withLogger:       hclog.NewNullLogger(),
	}
}

func getHandlerOpts(opt ...Option) handlerOptions {
	opts := handlerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithStateControl turns the anti-CSRF state nonce on or off. It is on by
// default.
func WithStateControl(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withStateControl = enabled
		}
	}
}

// WithScope overrides the scope of authorization requests, "openid" by
// default.
func WithScope(scope string) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && scope != "" {
			o.withScope = scope
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
