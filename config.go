package authgate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/pathmatch"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "AUTHGATE_"

// Session store kinds.
const (
	SessionStoreCookie = "cookie"
	SessionStoreMemory = "memory"
	SessionStoreBolt   = "bolt"
	SessionStoreSQLite = "sqlite"
)

// Config is the complete configuration of a Gate. It is resolved once at
// startup and not modified afterwards.
type Config struct {
	// ProviderURL is the base URL of the identity provider. With a Realm it
	// is the Keycloak server URL.
	ProviderURL string `mapstructure:"provider_url"`

	// Realm is an optional Keycloak realm.
	Realm string `mapstructure:"realm"`

	ClientID     string            `mapstructure:"client_id"`
	ClientSecret oidc.ClientSecret `mapstructure:"client_secret"`

	// Scopes are requested in addition to openid by the direct grant.
	Scopes []string `mapstructure:"scopes"`

	// ProviderCA is a PEM encoded CA certificate trusted for provider
	// requests. ProviderCAFile names a file holding one.
	ProviderCA     string `mapstructure:"provider_ca"`
	ProviderCAFile string `mapstructure:"provider_ca_file"`

	// RedirectURI fixes the externally visible base URL. When empty it is
	// derived from each request.
	RedirectURI string `mapstructure:"redirect_uri"`

	// Whitelist lists path expressions that bypass authentication.
	Whitelist []string `mapstructure:"whitelist"`

	// AbortOnUnauthorized lists path expressions answered with 401 instead of
	// a login redirect.
	AbortOnUnauthorized []string `mapstructure:"abort_on_unauthorized"`

	LoginPath      string `mapstructure:"login_path"`
	LogoutPath     string `mapstructure:"logout_path"`
	HeartbeatPath  string `mapstructure:"heartbeat_path"`
	CallbackPrefix string `mapstructure:"callback_prefix"`

	// StateControl enables the anti-CSRF state nonce.
	StateControl bool `mapstructure:"state_control"`

	// DebugUser disables authentication: no provider is contacted and every
	// visitor is logged in as this user with DebugRoles.
	DebugUser  string   `mapstructure:"debug_user"`
	DebugRoles []string `mapstructure:"debug_roles"`

	// SessionKey signs session cookies. It defaults to the client secret.
	// SessionEncryptionKey additionally encrypts them and must be 16, 24 or
	// 32 bytes long.
	SessionKey           string `mapstructure:"session_key"`
	SessionEncryptionKey string `mapstructure:"session_encryption_key"`

	// SessionStore selects where sessions live: cookie (default), memory,
	// bolt or sqlite. SessionDSN is the bolt file or sqlite data source.
	SessionStore string `mapstructure:"session_store"`
	SessionDSN   string `mapstructure:"session_dsn"`

	// Leeway is the clock skew tolerated when checking token lifetimes.
	Leeway time.Duration `mapstructure:"leeway"`
}

// DefaultConfig returns a Config with the default routes and state control
// on.
func DefaultConfig() *Config {
	return &Config{
		LogoutPath:   "/logout",
		StateControl: true,
		SessionStore: SessionStoreCookie,
	}
}

// LoadConfigFile returns the default configuration overlaid with the file at
// path. See Config.LoadFile for the accepted formats.
func LoadConfigFile(path string) (*Config, error) {
	const op = "authgate.LoadConfigFile"
	c := DefaultConfig()
	if err := c.LoadFile(path); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// keycloakAdapterFile is the client adapter file exported by the Keycloak
// admin console.
type keycloakAdapterFile struct {
	AuthServerURL string `mapstructure:"auth-server-url"`
	Realm         string `mapstructure:"realm"`
	Resource      string `mapstructure:"resource"`
	Credentials   struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"credentials"`
}

// keycloakClientFile holds the keyword arguments of a python-keycloak
// client.
type keycloakClientFile struct {
	ServerURL       string `mapstructure:"server_url"`
	RealmName       string `mapstructure:"realm_name"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecretKey string `mapstructure:"client_secret_key"`
}

// LoadFile overlays c with the JSON file at path. Three layouts are accepted:
// a Keycloak adapter file (auth-server-url, realm, resource,
// credentials.secret), python-keycloak client arguments (server_url,
// realm_name, client_id, client_secret_key) and the Config field names.
func (c *Config) LoadFile(path string) error {
	const op = "Config.LoadFile"
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	raw := map[string]interface{}{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%s: %s is not a JSON object: %w", op, path, err)
	}

	switch {
	case raw["auth-server-url"] != nil:
		var f keycloakAdapterFile
		if err := decode(raw, &f); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		c.ProviderURL, c.Realm, c.ClientID = f.AuthServerURL, f.Realm, f.Resource
		if f.Credentials.Secret != "" {
			c.ClientSecret = oidc.ClientSecret(f.Credentials.Secret)
		}
	case raw["server_url"] != nil:
		var f keycloakClientFile
		if err := decode(raw, &f); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		c.ProviderURL, c.Realm, c.ClientID = f.ServerURL, f.RealmName, f.ClientID
		if f.ClientSecretKey != "" {
			c.ClientSecret = oidc.ClientSecret(f.ClientSecretKey)
		}
	default:
		if err := decode(raw, c); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// ApplyEnv loads the given dotenv files (.env when none is given; missing
// files are skipped) and overlays c with every AUTHGATE_<FIELD> variable,
// where FIELD is the upper cased mapstructure name of a Config field. Lists
// are comma separated.
func (c *Config) ApplyEnv(files ...string) error {
	const op = "Config.ApplyEnv"
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: unable to load %s: %w", op, f, err)
		}
	}

	raw := map[string]interface{}{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("mapstructure"), ",")[0]
		if name == "" {
			continue
		}
		if v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(name)); ok {
			raw[name] = v
		}
	}
	if err := decode(raw, c); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func decode(raw map[string]interface{}, out interface{}) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToListHook,
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return d.Decode(raw)
}

// stringToListHook splits comma separated strings into trimmed, non empty
// list entries.
func stringToListHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t.Kind() != reflect.Slice || t.Elem().Kind() != reflect.String {
		return data, nil
	}
	list := []string{}
	for _, s := range strings.Split(data.(string), ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	return list, nil
}

// ProviderConfig returns the provider settings of c.
func (c *Config) ProviderConfig() *oidc.Config {
	return &oidc.Config{
		ProviderURL:  c.ProviderURL,
		Realm:        c.Realm,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		ProviderCA:   c.ProviderCA,
	}
}

// Bypass reports whether authentication is disabled in favour of a debug
// user.
func (c *Config) Bypass() bool {
	return c.DebugUser != ""
}

// Validate checks c without contacting the provider.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var errs *multierror.Error
	if !c.Bypass() {
		if err := c.ProviderConfig().Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if _, err := pathmatch.Compile(c.Whitelist); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("whitelist: %w", err))
	}
	if _, err := pathmatch.Compile(c.AbortOnUnauthorized); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("abort on unauthorized: %w", err))
	}
	for _, p := range []struct{ name, path string }{
		{"login path", c.LoginPath},
		{"logout path", c.LogoutPath},
		{"heartbeat path", c.HeartbeatPath},
	} {
		if p.path != "" && !strings.HasPrefix(p.path, "/") {
			errs = multierror.Append(errs, fmt.Errorf("%s %q must start with a slash: %w", p.name, p.path, ErrInvalidParameter))
		}
	}
	if c.RedirectURI != "" {
		if u, err := url.Parse(c.RedirectURI); err != nil || u.Scheme == "" || u.Host == "" {
			errs = multierror.Append(errs, fmt.Errorf("redirect URI %q must be an absolute URL: %w", c.RedirectURI, ErrInvalidParameter))
		}
	}
	switch len(c.SessionEncryptionKey) {
	case 0, 16, 24, 32:
	default:
		errs = multierror.Append(errs, fmt.Errorf("session encryption key must be 16, 24 or 32 bytes: %w", ErrInvalidParameter))
	}
	switch c.SessionStore {
	case "", SessionStoreCookie, SessionStoreMemory:
	case SessionStoreBolt, SessionStoreSQLite:
		if c.SessionDSN == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s session store needs a session dsn: %w", c.SessionStore, ErrInvalidParameter))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown session store %q: %w", c.SessionStore, ErrInvalidParameter))
	}
	if c.Leeway < 0 {
		errs = multierror.Append(errs, fmt.Errorf("leeway is negative: %w", ErrInvalidParameter))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
	}
	return nil
}
