package jwt

import (
	"context"
	"testing"
	"time"

	"github.com/authgate/authgate/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingKeySet struct{}

func (failingKeySet) Keys(context.Context, string) ([]jose.JSONWebKey, error) {
	return nil, ErrKeyFetchFailed
}

func TestNewValidator(t *testing.T) {
	t.Parallel()
	pub, _ := oidc.TestGenerateKeys(t)
	ks, err := NewStaticKeySet([]string{pub})
	require.NoError(t, err)

	tests := []struct {
		name    string
		keys    KeySet
		aud     string
		opts    []Option
		wantErr error
	}{
		{name: "valid", keys: ks, aud: "client"},
		{name: "nil-keys", aud: "client", wantErr: ErrNilParameter},
		{name: "empty-audience", keys: ks, wantErr: ErrInvalidParameter},
		{name: "unsupported-alg", keys: ks, aud: "client", opts: []Option{WithSupportedAlgorithms("none")}, wantErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator(tt.keys, tt.aud, tt.opts...)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()
	const (
		aud = "test-client"
		iss = "https://idp.example.com/realms/demo"
	)
	now := time.Now().Truncate(time.Second)
	pub, priv := oidc.TestGenerateKeys(t)
	_, otherPriv := oidc.TestGenerateKeys(t)
	ks, err := NewStaticKeySet([]string{pub})
	require.NoError(t, err)

	claims := func(mod func(c *jwt.Claims)) jwt.Claims {
		c := jwt.Claims{
			Subject:   "alice",
			Issuer:    iss,
			Audience:  jwt.Audience{aud},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		}
		if mod != nil {
			mod(&c)
		}
		return c
	}

	hsToken := func() string {
		sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")}, nil)
		require.NoError(t, err)
		raw, err := jwt.Signed(sig).Claims(claims(nil)).Serialize()
		require.NoError(t, err)
		return raw
	}()

	tests := []struct {
		name  string
		keys  KeySet
		token string
		opts  []Option
		want  Reason
	}{
		{
			name:  "valid",
			token: oidc.TestSignJWT(t, priv, "", claims(nil), map[string]interface{}{"preferred_username": "alice"}),
			want:  Valid,
		},
		{
			name:  "empty",
			token: "",
			want:  MalformedToken,
		},
		{
			name:  "garbage",
			token: "not.a.jwt",
			want:  MalformedToken,
		},
		{
			name:  "wrong-key",
			token: oidc.TestSignJWT(t, otherPriv, "", claims(nil), nil),
			want:  SignatureMismatch,
		},
		{
			name:  "unsupported-alg",
			token: hsToken,
			want:  SignatureMismatch,
		},
		{
			name:  "alg-not-accepted",
			token: oidc.TestSignJWT(t, priv, "", claims(nil), nil),
			opts:  []Option{WithSupportedAlgorithms(RS256)},
			want:  SignatureMismatch,
		},
		{
			name:  "audience-mismatch",
			token: oidc.TestSignJWT(t, priv, "", claims(func(c *jwt.Claims) { c.Audience = jwt.Audience{"someone-else"} }), nil),
			want:  AudienceMismatch,
		},
		{
			name:  "one-of-many-audiences",
			token: oidc.TestSignJWT(t, priv, "", claims(func(c *jwt.Claims) { c.Audience = jwt.Audience{"account", aud} }), nil),
			want:  Valid,
		},
		{
			name:  "issuer-mismatch",
			token: oidc.TestSignJWT(t, priv, "", claims(func(c *jwt.Claims) { c.Issuer = "https://evil.example.com" }), nil),
			opts:  []Option{WithIssuer(iss)},
			want:  IssuerMismatch,
		},
		{
			name:  "expired",
			token: oidc.TestSignJWT(t, priv, "", claims(func(c *jwt.Claims) { c.Expiry = jwt.NewNumericDate(now.Add(-30 * time.Second)) }), nil),
			want:  Expired,
		},
		{
			name:  "expired-within-leeway",
			token: oidc.TestSignJWT(t, priv, "", claims(func(c *jwt.Claims) { c.Expiry = jwt.NewNumericDate(now.Add(-30 * time.Second)) }), nil),
			opts:  []Option{WithLeeway(time.Minute)},
			want:  Valid,
		},
		{
			name: "not-yet-valid",
			token: oidc.TestSignJWT(t, priv, "", claims(func(c *jwt.Claims) {
				c.IssuedAt = jwt.NewNumericDate(now.Add(time.Minute))
				c.NotBefore = jwt.NewNumericDate(now.Add(time.Minute))
			}), nil),
			want: NotYetValid,
		},
		{
			name:  "key-fetch-failure",
			keys:  failingKeySet{},
			token: oidc.TestSignJWT(t, priv, "kid", claims(nil), nil),
			want:  KeyFetchFailure,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			keys := tt.keys
			if keys == nil {
				keys = ks
			}
			opts := append([]Option{
				WithSupportedAlgorithms(ES256),
				WithNow(func() time.Time { return now }),
			}, tt.opts...)
			v, err := NewValidator(keys, aud, opts...)
			require.NoError(err)

			got := v.Validate(context.Background(), tt.token)
			assert.Equal(tt.want, got.Reason, "got %s", got.Reason)
			assert.Equal(tt.want == Valid, got.Valid())
			if got.Valid() {
				assert.Equal("alice", got.Claims["sub"])
			} else {
				assert.Nil(got.Claims)
			}
		})
	}
}

func TestValidator_RemoteKeySet(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)
	ks := testRemoteKeySet(t, tp, WithMinRefreshInterval(0))
	v, err := NewValidator(ks, oidc.TestClientID, WithSupportedAlgorithms(ES256), WithIssuer(tp.Addr()))
	require.NoError(err)
	ctx := context.Background()

	token, err := tp.IssueIDToken()
	require.NoError(err)
	got := v.Validate(ctx, token)
	require.True(got.Valid(), got.Reason.String())
	assert.Equal(oidc.TestUsername, got.Claims["preferred_username"])

	// a token signed after a key rotation is verified after one refresh
	require.NoError(tp.RotateKeys())
	token, err = tp.IssueIDToken()
	require.NoError(err)
	assert.True(v.Validate(ctx, token).Valid())
	assert.Equal(2, tp.CertsRequests())
}

func TestReason_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("valid", Valid.String())
	assert.Equal("audience_mismatch", AudienceMismatch.String())
	assert.Equal("key_fetch_failure", KeyFetchFailure.String())
	assert.Equal("reason(42)", Reason(42).String())
}
