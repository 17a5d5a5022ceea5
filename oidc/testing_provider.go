package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/authgate/authgate/internal/strutils"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/require"
)

// Default credentials and values served by a TestProvider.
const (
	TestClientID     = "test-client"
	TestClientSecret = "test-secret"
	TestUsername     = "alice"
	TestPassword     = "wonderland"
	TestAuthCode     = "abc123"
	TestSubject      = "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients"
)

type testSigningKey struct {
	kid string
	key *ecdsa.PrivateKey
}

// TestProvider is a local TLS server that behaves like a Keycloak style
// provider: discovery, the authorization endpoint, code and password grants,
// signing keys, user-info and logout.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                  sync.Mutex
	keys                []testSigningKey
	allowedRedirectURIs []string
	clientID            string
	clientSecret        string
	username            string
	password            string
	authCode            string
	replyUserinfo       map[string]interface{}
	customClaims        map[string]interface{}
	customAudience      string
	tokenTTL            time.Duration
	omitIDToken         bool
	disableUserInfo     bool
	disableLogout       bool
	certsStatus         int
	issuedAccessTokens  map[string]bool
	certsRequests       int
	logoutRefreshTokens []string
}

// StartTestProvider creates a disposable TestProvider that is stopped when the
// test ends.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:     TestClientID,
		clientSecret: TestClientSecret,
		username:     TestUsername,
		password:     TestPassword,
		authCode:     TestAuthCode,
		replyUserinfo: map[string]interface{}{
			"preferred_username": TestUsername,
			"email":              "alice@example.com",
			"color":              "red",
		},
		tokenTTL:           5 * time.Minute,
		issuedAccessTokens: map[string]bool{},
	}
	require.NoError(p.RotateKeys())

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver,
// which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client that trusts the test provider.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// Config returns a Config pointing at the test provider with its default
// client credentials.
func (p *TestProvider) Config() *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Config{
		ProviderURL:  p.Addr(),
		ClientID:     p.clientID,
		ClientSecret: ClientSecret(p.clientSecret),
		ProviderCA:   p.caCert,
	}
}

// RotateKeys adds a new signing key with a fresh key id. Tokens are signed with
// the newest key while older keys stay published.
func (p *TestProvider) RotateKeys() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	kid, err := uuid.GenerateUUID()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, testSigningKey{kid: kid, key: key})
	return nil
}

// SigningKeyID returns the key id of the key currently used for signing.
func (p *TestProvider) SigningKeyID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[len(p.keys)-1].kid
}

// SetClientCreds configures the client credentials the token endpoint accepts.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetUserCreds configures the credentials accepted by the password grant.
func (p *TestProvider) SetUserCreds(username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = username
	p.password = password
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authCode = code
}

// SetAllowedRedirectURIs restricts the redirect URIs the token endpoint
// accepts. By default any redirect URI is allowed.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to add to issued ID tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in issued ID
// tokens.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetTokenTTL sets the lifetime of issued ID tokens. A negative TTL issues
// tokens that are already expired.
func (p *TestProvider) SetTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenTTL = ttl
}

// SetUserInfoReply sets the claims returned by /userinfo.
func (p *TestProvider) SetUserInfoReply(reply map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = reply
}

// SetCertsStatus forces /certs to answer with status. Zero restores the
// normal reply.
func (p *TestProvider) SetCertsStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.certsStatus = status
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableLogout omits the end_session endpoint from the discovery config.
func (p *TestProvider) DisableLogout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableLogout = true
}

// CertsRequests returns how many times /certs has been requested.
func (p *TestProvider) CertsRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.certsRequests
}

// LogoutRefreshTokens returns the refresh tokens received by /logout.
func (p *TestProvider) LogoutRefreshTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.logoutRefreshTokens...)
}

// IssueIDToken signs an ID token the same way the token endpoint does.
func (p *TestProvider) IssueIDToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueIDToken()
}

func (p *TestProvider) issueIDToken() (string, error) {
	now := time.Now()
	claims := jwt.Claims{
		Subject:   TestSubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now.Add(-10 * time.Second)),
		NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.tokenTTL)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.tokenTTL < 0 {
		claims.IssuedAt = jwt.NewNumericDate(now.Add(2 * p.tokenTTL))
		claims.NotBefore = claims.IssuedAt
	}
	if p.customAudience != "" {
		claims.Audience = jwt.Audience{p.customAudience}
	}
	private := map[string]interface{}{
		"preferred_username": p.username,
	}
	for k, v := range p.customClaims {
		private[k] = v
	}
	signer := p.keys[len(p.keys)-1]
	return signJWT(signer.key, signer.kid, claims, private)
}

func (p *TestProvider) jwks() *jose.JSONWebKeySet {
	set := &jose.JSONWebKeySet{}
	for _, k := range p.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       k.key.Public(),
			KeyID:     k.kid,
			Algorithm: string(jose.ES256),
			Use:       "sig",
		})
	}
	return set
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := Metadata{
			Issuer:             p.Addr(),
			AuthURL:            p.Addr() + "/auth",
			TokenURL:           p.Addr() + "/token",
			JWKSURL:            p.Addr() + "/certs",
			UserInfoURL:        p.Addr() + "/userinfo",
			EndSessionURL:      p.Addr() + "/logout",
			IDTokenSigningAlgs: []string{string(jose.ES256)},
		}
		if p.disableUserInfo {
			reply.UserInfoURL = ""
		}
		if p.disableLogout {
			reply.EndSessionURL = ""
		}
		p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case !strutils.StrListContains(strings.Fields(qv.Get("scope")), ScopeOpenID):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		case qv.Get("redirect_uri") == "":
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		redirectURI := qv.Get("redirect_uri") + "?code=" + url.QueryEscape(p.authCode)
		if state := qv.Get("state"); state != "" {
			redirectURI += "&state=" + url.QueryEscape(state)
		}
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.certsRequests++
		if p.certsStatus != 0 {
			w.WriteHeader(p.certsStatus)
			return
		}
		p.writeJSON(w, p.jwks())

	case "/token":
		p.serveToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !p.issuedAccessTokens[token] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{"sub": TestSubject}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		p.writeJSON(w, reply)

	case "/logout":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if req.FormValue("client_id") != p.clientID || req.FormValue("client_secret") != p.clientSecret {
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "unauthorized_client", "Invalid client credentials")
			return
		}
		rt := req.FormValue("refresh_token")
		if rt == "" {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "No refresh token")
			return
		}
		p.logoutRefreshTokens = append(p.logoutRefreshTokens, rt)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if req.FormValue("client_id") != p.clientID || req.FormValue("client_secret") != p.clientSecret {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "unauthorized_client", "Invalid client or Invalid client credentials")
		return
	}

	switch req.FormValue("grant_type") {
	case string(GrantAuthorizationCode):
		switch {
		case len(p.allowedRedirectURIs) > 0 && !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "Incorrect redirect_uri")
			return
		case req.FormValue("code") != p.authCode:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
			return
		}
	case string(GrantPassword):
		if req.FormValue("username") != p.username || req.FormValue("password") != p.password {
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant_type")
		return
	}

	idToken, err := p.issueIDToken()
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	accessToken, err := uuid.GenerateUUID()
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	p.issuedAccessTokens[accessToken] = true

	reply := struct {
		AccessToken  string `json:"access_token"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
	}{
		AccessToken:  accessToken,
		IDToken:      idToken,
		RefreshToken: fmt.Sprintf("refresh-%s", accessToken),
		TokenType:    "Bearer",
		ExpiresIn:    300,
	}
	if p.omitIDToken {
		reply.IDToken = ""
	}
	p.writeJSON(w, &reply)
}
