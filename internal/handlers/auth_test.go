package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gatherly/gatherly-api/internal/auth"
	"github.com/gatherly/gatherly-api/internal/config"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/ratelimit"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUserRepo struct {
	byEmail map[string]models.User
}

func (s *stubUserRepo) CreateUser(email, fullName string) (models.User, error) {
	user := models.User{
		ID:       uuid.NewString(),
		Email:    repository.NormalizeEmail(email),
		FullName: fullName,
		IsActive: true,
	}
	s.byEmail[user.Email] = user
	return user, nil
}

func (s *stubUserRepo) GetUserByEmail(email string) (models.User, error) {
	user, ok := s.byEmail[repository.NormalizeEmail(email)]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *stubUserRepo) GetUserByID(userID string) (models.User, error) {
	for _, user := range s.byEmail {
		if user.ID == userID {
			return user, nil
		}
	}
	return models.User{}, sql.ErrNoRows
}

func (s *stubUserRepo) CountMemberships(string) (int, error) { return 0, nil }

type stubMagicLinkRepo struct {
	byHash map[string]models.MagicLinkToken
}

func (s *stubMagicLinkRepo) Create(email, tokenHash string, expiresAt time.Time) (models.MagicLinkToken, error) {
	ml := models.MagicLinkToken{ID: uuid.NewString(), Email: email, TokenHash: tokenHash, ExpiresAt: expiresAt}
	s.byHash[tokenHash] = ml
	return ml, nil
}

func (s *stubMagicLinkRepo) Redeem(tokenHash string, now time.Time) (models.MagicLinkToken, error) {
	ml, ok := s.byHash[tokenHash]
	if !ok || !ml.ExpiresAt.After(now) {
		return models.MagicLinkToken{}, sql.ErrNoRows
	}
	delete(s.byHash, tokenHash)
	return ml, nil
}

func (s *stubMagicLinkRepo) DeleteExpired(time.Time) (int64, error) { return 0, nil }

type stubSessionRepo struct {
	byHash map[string]models.Session
}

func (s *stubSessionRepo) Create(session models.Session) (models.Session, error) {
	session.ID = uuid.NewString()
	s.byHash[session.TokenHash] = session
	return session, nil
}

func (s *stubSessionRepo) GetByTokenHash(tokenHash string) (models.Session, error) {
	session, ok := s.byHash[tokenHash]
	if !ok {
		return models.Session{}, sql.ErrNoRows
	}
	return session, nil
}

func (s *stubSessionRepo) Delete(tokenHash string) error {
	delete(s.byHash, tokenHash)
	return nil
}

func (s *stubSessionRepo) DeleteExpired(time.Time) (int64, error) { return 0, nil }

func (s *stubSessionRepo) CreateGuestSession(gs models.GuestSession) (models.GuestSession, error) {
	return gs, nil
}

func (s *stubSessionRepo) GetGuestSessionByTokenHash(string) (models.GuestSession, error) {
	return models.GuestSession{}, sql.ErrNoRows
}

func (s *stubSessionRepo) MarkGuestSessionOTPVerified(string, time.Time) error { return nil }

func (s *stubSessionRepo) DeleteExpiredGuestSessions(time.Time) (int64, error) { return 0, nil }

type stubMailer struct {
	urls []string
}

func (s *stubMailer) SendMagicLink(_, magicLinkURL, _ string, _ bool) error {
	s.urls = append(s.urls, magicLinkURL)
	return nil
}

func (s *stubMailer) SendGuestOTP(string, string, string) error { return nil }

func (s *stubMailer) SendOrganizationInvite(string, string, string, string, string) error {
	return nil
}

type authHarness struct {
	handler *AuthHandler
	users   *stubUserRepo
	mailer  *stubMailer
}

func newAuthHarness(t *testing.T, emailLimit int) *authHarness {
	t.Helper()
	users := &stubUserRepo{byEmail: map[string]models.User{}}
	links := &stubMagicLinkRepo{byHash: map[string]models.MagicLinkToken{}}
	sessions := &stubSessionRepo{byHash: map[string]models.Session{}}
	mailer := &stubMailer{}

	svc := auth.NewService(users, links, sessions, mailer, config.AuthConfig{
		MagicLinkTTL:         15 * time.Minute,
		SessionTTL:           7 * 24 * time.Hour,
		MagicLinkURLTemplate: "https://app.example.com/auth/verify?token=%s",
	}, zerolog.Nop())

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), zerolog.Nop())
	policy := ratelimit.Policy{Prefix: "magiclink:email", Limit: emailLimit, Window: 10 * time.Minute}

	return &authHarness{
		handler: NewAuthHandler(svc, limiter, policy, 7*24*time.Hour, false, zerolog.Nop()),
		users:   users,
		mailer:  mailer,
	}
}

func postJSON(handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRequestMagicLinkResponsesAreIndistinguishable(t *testing.T) {
	h := newAuthHarness(t, 100)
	_, err := h.users.CreateUser("known@example.com", "Known")
	require.NoError(t, err)

	known := postJSON(h.handler.RequestMagicLink, `{"email":"known@example.com"}`)
	unknown := postJSON(h.handler.RequestMagicLink, `{"email":"unknown@example.com"}`)

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())

	// Only the real account got mail.
	assert.Len(t, h.mailer.urls, 1)
}

func TestRequestMagicLinkRejectsMissingEmail(t *testing.T) {
	h := newAuthHarness(t, 100)

	rec := postJSON(h.handler.RequestMagicLink, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h.handler.RequestMagicLink, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestMagicLinkPerEmailLimit(t *testing.T) {
	h := newAuthHarness(t, 3)

	for i := 0; i < 3; i++ {
		rec := postJSON(h.handler.RequestMagicLink, `{"email":"burst@example.com"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := postJSON(h.handler.RequestMagicLink, `{"email":"burst@example.com"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 601)

	// The limit is per address: other addresses are unaffected.
	rec = postJSON(h.handler.RequestMagicLink, `{"email":"other@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterAndVerifyFlow(t *testing.T) {
	h := newAuthHarness(t, 100)

	rec := postJSON(h.handler.Register, `{"email":"new@example.com","full_name":"New User"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.mailer.urls, 1)

	url := h.mailer.urls[0]
	raw := url[strings.Index(url, "token=")+len("token="):]

	body, err := json.Marshal(map[string]string{"token": raw})
	require.NoError(t, err)
	rec = postJSON(h.handler.Verify, string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token     string      `json:"token"`
		User      models.User `json:"user"`
		IsNewUser bool        `json:"is_new_user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.True(t, resp.IsNewUser)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "session_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// The session validates and then logs out.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	sessionRec := httptest.NewRecorder()
	h.handler.Session(sessionRec, req)
	assert.Equal(t, http.StatusOK, sessionRec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	logoutRec := httptest.NewRecorder()
	h.handler.Logout(logoutRec, req)
	assert.Equal(t, http.StatusNoContent, logoutRec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	sessionRec = httptest.NewRecorder()
	h.handler.Session(sessionRec, req)
	assert.Equal(t, http.StatusUnauthorized, sessionRec.Code)
}

func TestVerifyRejectsBadToken(t *testing.T) {
	h := newAuthHarness(t, 100)

	rec := postJSON(h.handler.Verify, `{"token":"bogus"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(h.handler.Verify, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyTokenIsSingleUse(t *testing.T) {
	h := newAuthHarness(t, 100)

	rec := postJSON(h.handler.Register, `{"email":"once@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	url := h.mailer.urls[0]
	raw := url[strings.Index(url, "token=")+len("token="):]

	body := new(bytes.Buffer)
	require.NoError(t, json.NewEncoder(body).Encode(map[string]string{"token": raw}))
	payload := body.String()

	rec = postJSON(h.handler.Verify, payload)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(h.handler.Verify, payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
