package cookies

import (
	"net/http"
	"strings"
)

const AuthCookieName = "auth_token"

// AuthToken reads the identity token from the auth cookie, falling back to an
// Authorization: Bearer header. Empty when neither is present.
func AuthToken(r *http.Request) string {
	if cookie, err := r.Cookie(AuthCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// ClearAuthCookie expires a token the server refused.
func ClearAuthCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
