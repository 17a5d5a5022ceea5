package jwt

import (
	"net/http"
	"time"

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

// DefaultMinRefreshInterval limits how often a key set will go back to the
// provider because of an unknown key id.
const DefaultMinRefreshInterval = 30 * time.Second

type keySetOptions struct {
	withHTTPClient         *http.Client
	withProviderCA         string
	withLogger             hclog.Logger
	withMinRefreshInterval time.Duration
	withNowFunc            func() time.Time
	withRegisterer         prometheus.Registerer
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withLogger:             hclog.NewNullLogger(),
		withMinRefreshInterval: DefaultMinRefreshInterval,
		withNowFunc:            time.Now,
	}
}

func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type validatorOptions struct {
	withSupportedAlgs []Alg
	withIssuer        string
	withLeeway        time.Duration
	withNowFunc       func() time.Time
	withLogger        hclog.Logger
}

func validatorDefaults() validatorOptions {
	return validatorOptions{
		withSupportedAlgs: []Alg{DefaultAlg},
		withNowFunc:       time.Now,
		withLogger:        hclog.NewNullLogger(),
	}
}

func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides the client used to fetch a remote key set. It takes
// precedence over WithProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithProviderCA provides an optional PEM encoded CA used to verify the key
// set endpoint.
func WithProviderCA(caPEM string) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withProviderCA = caPEM
		}
	}
}

// WithMinRefreshInterval overrides DefaultMinRefreshInterval.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withMinRefreshInterval = d
		}
	}
}

// WithRegisterer registers key set refresh metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withRegisterer = r
		}
	}
}

// WithSupportedAlgorithms sets the algorithms a Validator accepts. An empty
// list leaves the default of RS256 in place.
func WithSupportedAlgorithms(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok && len(algs) > 0 {
			o.withSupportedAlgs = algs
		}
	}
}

// WithIssuer makes a Validator require the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.withIssuer = issuer
		}
	}
}

// WithLeeway allows for clock skew when checking exp, nbf and iat.
func WithLeeway(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.withLeeway = d
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is, for both key sets and validators.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *keySetOptions:
			v.withNowFunc = now
		case *validatorOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger for both key sets and validators.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *keySetOptions:
			v.withLogger = l
		case *validatorOptions:
			v.withLogger = l
		}
	}
}
