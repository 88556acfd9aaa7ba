package middleware

import (
	"log/slog"
	"net/http"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/shared/cookies"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/shared/response"
)

type Auth struct {
	tokens       *auth.TokenManager
	secureCookie bool
}

func NewAuth(tokens *auth.TokenManager, secureCookie bool) *Auth {
	return &Auth{tokens: tokens, secureCookie: secureCookie}
}

// Require rejects requests without a valid identity token and stores the
// verified identity in the request context.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.With(
			"middleware", "jwt",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		token := cookies.AuthToken(r)
		if token == "" {
			response.Error(w, r, logger, errors.Unauthorized("authentication required"))
			return
		}

		claims, err := a.tokens.Validate(token)
		if err != nil {
			cookies.ClearAuthCookie(w, a.secureCookie)
			response.Error(w, r, logger, errors.Unauthorized("invalid token"))
			return
		}

		logger.Debug("JWT authentication successful",
			"user_id", claims.UserID,
			"username", claims.Username)

		ctx := auth.WithIdentity(r.Context(), claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) RequireFunc(fn http.HandlerFunc) http.Handler {
	return a.Require(fn)
}
