package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatherly/gatherly-api/internal/auth"
	"github.com/gatherly/gatherly-api/internal/authz"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/ratelimit"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// magicLinkSentMessage is the only response body the magic-link
// endpoints ever produce on success paths. Returning it unconditionally
// is what keeps account existence unobservable.
const magicLinkSentMessage = "If an account exists for that address, a sign-in link has been sent."

type AuthHandler struct {
	auth          *auth.Service
	limiter       *ratelimit.Limiter
	emailPolicy   ratelimit.Policy
	sessionTTL    time.Duration
	secureCookies bool
	logger        zerolog.Logger
}

func NewAuthHandler(
	svc *auth.Service,
	limiter *ratelimit.Limiter,
	emailPolicy ratelimit.Policy,
	sessionTTL time.Duration,
	secureCookies bool,
	logger zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:          svc,
		limiter:       limiter,
		emailPolicy:   emailPolicy,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// allowEmail applies the per-address issuance limit. It runs before any
// account lookup so known and unknown addresses consume the budget
// identically.
func (h *AuthHandler) allowEmail(w http.ResponseWriter, r *http.Request, email string) bool {
	decision := h.limiter.Allow(r.Context(), h.emailPolicy, strings.ToLower(strings.TrimSpace(email)))
	if decision.Allowed {
		return true
	}
	retryAfter := int64(decision.RetryAfter.Seconds()) + 1
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	return false
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

// RequestMagicLink issues a login link for an existing account. The
// response is identical whether or not the account exists.
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	if !h.allowEmail(w, r, req.Email) {
		return
	}

	if _, err := h.auth.SendLoginMagicLink(req.Email); err != nil {
		// Internal failures must not change the response shape either.
		h.logger.Error().Err(err).Msg("magic link issuance failed")
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": magicLinkSentMessage})
}

// Register creates the account if needed and always issues a magic
// link. Repeat registrations are indistinguishable from first ones.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	if !h.allowEmail(w, r, req.Email) {
		return
	}

	if _, err := h.auth.RegisterUser(req.Email, req.FullName); err != nil {
		h.logger.Error().Err(err).Msg("registration failed")
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": magicLinkSentMessage})
}

// Verify redeems a magic link and establishes a session.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	result, err := h.auth.LoginWithMagicLink(req.Token, auth.RequestMeta{
		IPAddress: ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidOrExpiredToken) {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		h.logger.Error().Err(err).Msg("magic link redemption failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authz.SessionCookieName,
		Value:    result.SessionToken,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, struct {
		Token     string      `json:"token"`
		User      models.User `json:"user"`
		IsNewUser bool        `json:"is_new_user"`
		ExpiresAt time.Time   `json:"expires_at"`
	}{
		Token:     result.SessionToken,
		User:      result.User,
		IsNewUser: result.IsNewUser,
		ExpiresAt: result.Session.ExpiresAt,
	})
}

// Session reports the current session's user, or 401.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	info, err := h.auth.ValidateSession(authz.ExtractSessionToken(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("session validation failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if info == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		User      models.User `json:"user"`
		ExpiresAt time.Time   `json:"expires_at"`
	}{
		User:      info.User,
		ExpiresAt: info.Session.ExpiresAt,
	})
}

// Logout deletes the session and clears the cookie; repeated calls are
// harmless.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(authz.ExtractSessionToken(r)); err != nil {
		h.logger.Error().Err(err).Msg("logout failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authz.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
