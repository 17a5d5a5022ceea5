package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/authgate/authgate/internal/httpclient"
	"github.com/authgate/authgate/internal/strutils"
	"github.com/hashicorp/go-multierror"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration for a relying party of a single
// provider.
type Config struct {
	// ProviderURL is the base URL of the provider. When Realm is empty it is
	// also the issuer.
	ProviderURL string

	// Realm is an optional Keycloak realm. When set, the issuer is
	// <ProviderURL>/realms/<Realm>.
	Realm string

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the relying party secret. It may be empty for public
	// clients.
	ClientSecret ClientSecret

	// Scopes is a list of additional scopes to request. The required "openid"
	// scope is always requested and does not need to be listed.
	Scopes []string

	// ProviderCA is an optional PEM encoded CA cert to use when sending
	// requests to the provider.
	ProviderCA string
}

// IssuerURL returns the issuer the provider is expected to publish in its
// discovery document.
func (c *Config) IssuerURL() string {
	base := strings.TrimRight(c.ProviderURL, "/")
	if c.Realm == "" {
		return base
	}
	return base + "/realms/" + url.PathEscape(c.Realm)
}

// AuthScope returns the scope parameter for authorization requests.
func (c *Config) AuthScope() string {
	scopes := strutils.RemoveDuplicatesStable(append([]string{ScopeOpenID}, c.Scopes...), false)
	return strings.Join(scopes, " ")
}

// Validate the provider configuration. It doesn't verify the issuer is
// discoverable via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var errs *multierror.Error
	if c.ClientID == "" {
		errs = multierror.Append(errs, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.ProviderURL == "" {
		errs = multierror.Append(errs, fmt.Errorf("provider URL is empty: %w", ErrInvalidParameter))
	} else {
		u, err := url.Parse(c.ProviderURL)
		switch {
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("provider URL %q is invalid: %w", c.ProviderURL, ErrInvalidIssuer))
		case !strutils.StrListContains([]string{"https", "http"}, u.Scheme):
			errs = multierror.Append(errs, fmt.Errorf("provider URL %q scheme is not http or https: %w", c.ProviderURL, ErrInvalidIssuer))
		case u.RawQuery != "" || u.Fragment != "":
			errs = multierror.Append(errs, fmt.Errorf("provider URL %q has a query or fragment: %w", c.ProviderURL, ErrInvalidIssuer))
		}
	}
	if c.ProviderCA != "" {
		if _, err := c.HTTPClient(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := httpclient.New(c.ProviderCA)
	if err != nil {
		if errors.Is(err, httpclient.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}
