package authgate

import (
	"github.com/authgate/authgate/session"
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
	withLogger       hclog.Logger
	withSessionStore session.Store
	withRegisterer   prometheus.Registerer
}

func getDefaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithSessionStore replaces the session store chosen by the configuration.
func WithSessionStore(s session.Store) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSessionStore = s
		}
	}
}

// WithRegisterer registers the gate's metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRegisterer = r
		}
	}
}
