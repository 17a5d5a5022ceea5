// Package authgate puts an OpenID Connect login in front of a web application.
//
// A Gate wraps an http.Handler. Requests without a valid login are sent to
// the identity provider's authorization endpoint; the provider sends the
// browser back to a callback path where the authorization code is exchanged
// for tokens, the ID token is verified against the provider's published keys
// and the resulting identity is stored in the session. Keycloak realms are
// supported directly, and a direct grant login form plus logout and heartbeat
// routes are served next to the application.
//
// The building blocks live in their own packages and can be used on their
// own:
//
//	pathmatch:  regular expression path lists (whitelist, abort list)
//	session:    session values and stores (cookie, bbolt, sqlite, memory)
//	oidc:       provider discovery, token grants, user-info and logout
//	jwt:        JWKS key sets and ID token validation
//	auth:       the session mutations of the login flow
//	middleware: the per-request authentication state machine
//	routes:     login, logout and heartbeat endpoints on a chi router
package authgate
