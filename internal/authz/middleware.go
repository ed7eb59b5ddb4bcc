package authz

import (
	"net/http"
	"strings"

	"github.com/gatherly/gatherly-api/internal/auth"
	"github.com/rs/zerolog"
)

// SessionCookieName is the cookie carrying the staff session token.
const SessionCookieName = "session_token"

// ExtractSessionToken pulls the session token from the request,
// checking Authorization header, cookie, then query parameter, in that
// precedence order.
func ExtractSessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// RequireSession validates the presented session token and attaches the
// user identity to the request context. Missing, invalid, and expired
// sessions all produce the same 401.
func RequireSession(svc *auth.Service, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := svc.ValidateSession(ExtractSessionToken(r))
			if err != nil {
				logger.Error().Err(err).Msg("session validation failed")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if info == nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), info.User, info.Session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
