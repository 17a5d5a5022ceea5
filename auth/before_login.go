package auth

import (
	"net/http"

	"github.com/authgate/authgate/oidc"
	"github.com/authgate/authgate/session"
)

// DebugToken is the access token stored by DebugBypass.
const DebugToken = "DEBUG_TOKEN"

// BeforeLogin runs for requests that are not logged in, before the normal
// login flow. It returns true when it has written the response, which must be
// a redirect to redirectTo with the session populated.
type BeforeLogin interface {
	HandleBeforeLogin(h *Handler, w http.ResponseWriter, r *http.Request, s *session.Session, redirectTo string) bool
}

// NoBeforeLogin leaves every request to the normal login flow.
type NoBeforeLogin struct{}

var _ BeforeLogin = NoBeforeLogin{}

// HandleBeforeLogin implements BeforeLogin.
func (NoBeforeLogin) HandleBeforeLogin(*Handler, http.ResponseWriter, *http.Request, *session.Session, string) bool {
	return false
}

// DebugBypass logs every visitor in as a fixed user without contacting a
// provider.
type DebugBypass struct {
	User  string
	Roles []string
}

var _ BeforeLogin = DebugBypass{}

// Fields returns the session contents written for the debug user.
func (d DebugBypass) Fields() map[string]interface{} {
	roles := make([]interface{}, 0, len(d.Roles))
	for _, r := range d.Roles {
		roles = append(roles, r)
	}
	realmAccess := map[string]interface{}{"roles": roles}
	return map[string]interface{}{
		session.TokenKey: oidc.TokenBundle{AccessToken: DebugToken, TokenType: "Bearer"},
		session.UserKey:  map[string]interface{}{"preferred_username": d.User},
		session.DataKey: map[string]interface{}{
			"preferred_username": d.User,
			"realm_access":       realmAccess,
		},
		session.IntrospectKey: map[string]interface{}{"realm_access": realmAccess},
	}
}

// HandleBeforeLogin implements BeforeLogin.
func (d DebugBypass) HandleBeforeLogin(h *Handler, w http.ResponseWriter, r *http.Request, s *session.Session, redirectTo string) bool {
	if err := h.SetSession(w, r, s, d.Fields()); err != nil {
		h.logger.Error("unable to store debug session", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return true
	}
	h.logger.Debug("debug user logged in", "user", d.User)
	http.Redirect(w, r, redirectTo, http.StatusFound)
	return true
}
