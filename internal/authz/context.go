package authz

import (
	"context"
	"net/http"

	"github.com/gatherly/gatherly-api/internal/models"
)

type contextKey string

const (
	userKey    contextKey = "user"
	sessionKey contextKey = "session"
)

// WithIdentity stores the authenticated user and their session on the context.
func WithIdentity(ctx context.Context, user models.User, session models.Session) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, sessionKey, session)
}

func UserFromRequest(r *http.Request) (models.User, bool) {
	user, ok := r.Context().Value(userKey).(models.User)
	if !ok || user.ID == "" {
		return models.User{}, false
	}
	return user, true
}

func SessionFromRequest(r *http.Request) (models.Session, bool) {
	session, ok := r.Context().Value(sessionKey).(models.Session)
	if !ok || session.ID == "" {
		return models.Session{}, false
	}
	return session, true
}
