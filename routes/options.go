package routes

import (
	"github.com/hashicorp/go-hclog"
)

// DefaultLogoutPath is the logout route unless another path is configured.
const DefaultLogoutPath = "/logout"

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
	withLoginPath     string
	withLogoutPath    string
	withHeartbeatPath string
	withLogger        hclog.Logger
}

func getDefaults() options {
	return options{
		withLogoutPath: DefaultLogoutPath,
		withLogger:     hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLoginPath enables the direct grant login route at path.
func WithLoginPath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLoginPath = path
		}
	}
}

// WithLogoutPath moves the logout route. An empty path disables it.
func WithLogoutPath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLogoutPath = path
		}
	}
}

// WithHeartbeatPath enables the liveness route at path.
func WithHeartbeatPath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHeartbeatPath = path
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
