package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/authgate/authgate/internal/httpclient"
	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// maxKeySetSize bounds the JWKS document read from a provider.
const maxKeySetSize = 1 << 20

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {
	// Keys returns the verification keys for the given key id. An empty kid
	// returns every key. A nil slice with a nil error means no key is known for
	// kid.
	Keys(ctx context.Context, kid string) ([]jose.JSONWebKey, error)
}

// keySnapshot is an immutable view of a key set. It is replaced as a whole on
// refresh and never modified after it is published.
type keySnapshot struct {
	keys      []jose.JSONWebKey
	fetchedAt time.Time

	// trigger is the key id whose miss caused the fetch, empty for Refresh.
	trigger string
	// retried is set once the refresh interval that started at fetchedAt
	// has used its extra fetch.
	retried bool
}

func (s *keySnapshot) lookup(kid string) []jose.JSONWebKey {
	if s == nil {
		return nil
	}
	if kid == "" {
		return s.keys
	}
	var found []jose.JSONWebKey
	for _, k := range s.keys {
		if k.KeyID == kid {
			found = append(found, k)
		}
	}
	return found
}

// RemoteKeySet verifies JWT signatures using keys obtained from a JWKS URL.
// Readers always see a complete snapshot; a lookup for an unknown key id
// triggers at most one concurrent refresh.
type RemoteKeySet struct {
	jwksURL            string
	client             *http.Client
	logger             hclog.Logger
	minRefreshInterval time.Duration
	now                func() time.Time

	snapshot atomic.Pointer[keySnapshot]
	group    singleflight.Group

	refreshes *prometheus.CounterVec
}

var _ KeySet = (*RemoteKeySet)(nil)

// NewRemoteKeySet returns a KeySet that verifies JWT signatures using keys from the JSON Web
// Key Set (JWKS) at the given jwksURL. No request is made until the first
// lookup or an explicit Refresh.
//
// Supported options: WithHTTPClient, WithProviderCA, WithLogger,
// WithMinRefreshInterval, WithNow, WithRegisterer
func NewRemoteKeySet(jwksURL string, opt ...Option) (*RemoteKeySet, error) {
	const op = "jwt.NewRemoteKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = httpclient.New(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}

	ks := &RemoteKeySet{
		jwksURL:            jwksURL,
		client:             client,
		logger:             opts.withLogger,
		minRefreshInterval: opts.withMinRefreshInterval,
		now:                opts.withNowFunc,
	}
	if opts.withRegisterer != nil {
		ks.refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authgate",
			Subsystem: "jwks",
			Name:      "refresh_total",
			Help:      "Number of signing key set fetches by result.",
		}, []string{"result"})
		if err := opts.withRegisterer.Register(ks.refreshes); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("%s: unable to register metrics: %w", op, err)
			}
			ks.refreshes = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return ks, nil
}

// Keys implements KeySet. Keys are served from the current snapshot; a miss
// refreshes the set unless the snapshot is younger than the minimum refresh
// interval. Within the interval one extra fetch is allowed for a key id other
// than the one that caused the last fetch, so a key published right after a
// refresh is picked up without waiting for the interval to pass.
func (ks *RemoteKeySet) Keys(ctx context.Context, kid string) ([]jose.JSONWebKey, error) {
	const op = "RemoteKeySet.Keys"
	snap := ks.snapshot.Load()
	if keys := snap.lookup(kid); len(keys) > 0 {
		return keys, nil
	}
	var retry *keySnapshot
	if snap != nil && ks.now().Sub(snap.fetchedAt) < ks.minRefreshInterval {
		if snap.retried || snap.trigger == kid {
			return nil, nil
		}
		retry = snap
	}
	snap, err := ks.refresh(ctx, kid, retry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return snap.lookup(kid), nil
}

// Refresh fetches the key set now, replacing the current snapshot.
func (ks *RemoteKeySet) Refresh(ctx context.Context) error {
	_, err := ks.refresh(ctx, "", nil)
	return err
}

// refresh fetches the key set for a miss on kid. A non nil retry is the
// snapshot whose refresh interval the fetch is charged to.
func (ks *RemoteKeySet) refresh(ctx context.Context, kid string, retry *keySnapshot) (*keySnapshot, error) {
	// The fetch is shared by every waiter, so it must not die with the first
	// caller's request.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := ks.group.Do(ks.jwksURL, func() (interface{}, error) {
		snap, err := ks.fetch(fetchCtx)
		if err != nil {
			ks.count("error")
			return nil, err
		}
		snap.trigger = kid
		if retry != nil {
			snap.fetchedAt, snap.retried = retry.fetchedAt, true
		}
		ks.snapshot.Store(snap)
		ks.count("success")
		ks.logger.Debug("refreshed signing keys", "jwks_url", ks.jwksURL, "keys", len(snap.keys))
		return snap, nil
	})
	if err != nil {
		ks.logger.Warn("unable to refresh signing keys", "jwks_url", ks.jwksURL, "shared", shared, "error", err)
		return nil, err
	}
	return v.(*keySnapshot), nil
}

func (ks *RemoteKeySet) fetch(ctx context.Context) (*keySnapshot, error) {
	const op = "RemoteKeySet.fetch"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrKeyFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: unable to read response: %s", op, ErrKeyFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: %s: %s", op, ErrKeyFetchFailed, resp.Status, body)
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidKeySet, err)
	}
	keys := make([]jose.JSONWebKey, 0, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if !k.IsPublic() {
			continue
		}
		keys = append(keys, k)
	}
	return &keySnapshot{keys: keys, fetchedAt: ks.now()}, nil
}

func (ks *RemoteKeySet) count(result string) {
	if ks.refreshes != nil {
		ks.refreshes.WithLabelValues(result).Inc()
	}
}

// StaticKeySet verifies JWT signatures using local PEM-encoded public keys.
type StaticKeySet struct {
	keys []jose.JSONWebKey
}

var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet that verifies JWT signatures using PEM-encoded public keys.
// The given publicKeys must be of PEM-encoded x509 certificate or PKIX public key forms.
// Static keys carry no key id and are offered for every token.
func NewStaticKeySet(publicKeys []string) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	keys := make([]jose.JSONWebKey, 0, len(publicKeys))
	for _, k := range publicKeys {
		key, err := parsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		keys = append(keys, jose.JSONWebKey{Key: key, Use: "sig"})
	}
	return &StaticKeySet{keys: keys}, nil
}

// Keys implements KeySet; the kid is ignored.
func (ks *StaticKeySet) Keys(_ context.Context, _ string) ([]jose.JSONWebKey, error) {
	return ks.keys, nil
}

// parsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from PEMs.
func parsePublicKeyPEM(data []byte) (interface{}, error) {
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, err
			}
		}

		switch k := rawKey.(type) {
		case *rsa.PublicKey:
			return k, nil
		case *ecdsa.PublicKey:
			return k, nil
		case ed25519.PublicKey:
			return k, nil
		}
	}

	return nil, errors.New("data does not contain any valid RSA, ECDSA or ED25519 public keys")
}
