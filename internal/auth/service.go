// Package auth implements passwordless staff authentication: magic-link
// issuance and redemption plus opaque server-side sessions.
package auth

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gatherly/gatherly-api/internal/config"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/notification"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/gatherly/gatherly-api/internal/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrInvalidOrExpiredToken is deliberately generic: callers must not be
// able to distinguish "never existed" from "expired" or "already used".
var ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

// RequestMeta carries client attribution extracted by the HTTP layer.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// MagicLinkResult reports whether a token was actually issued. It stays
// inside the service boundary; the HTTP layer always returns the same
// fixed message regardless.
type MagicLinkResult struct {
	Sent bool
}

// LoginResult is the outcome of a successful magic-link redemption.
type LoginResult struct {
	User         models.User
	Session      models.Session
	SessionToken string
	IsNewUser    bool
}

// SessionInfo is returned by ValidateSession for a live session.
type SessionInfo struct {
	User    models.User
	Session models.Session
}

type Service struct {
	users    repository.UserRepository
	links    repository.MagicLinkRepository
	sessions repository.SessionRepository
	mailer   notification.Mailer
	cfg      config.AuthConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	users repository.UserRepository,
	links repository.MagicLinkRepository,
	sessions repository.SessionRepository,
	mailer notification.Mailer,
	cfg config.AuthConfig,
	logger zerolog.Logger,
) *Service {
	return &Service{
		users:    users,
		links:    links,
		sessions: sessions,
		mailer:   mailer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "auth").Logger(),
		now:      time.Now,
	}
}

// SendLoginMagicLink issues a login token for an existing account. For
// unknown addresses it does nothing and reports Sent=false; the caller
// must respond identically in both cases.
func (s *Service) SendLoginMagicLink(email string) (MagicLinkResult, error) {
	user, err := s.users.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MagicLinkResult{Sent: false}, nil
		}
		return MagicLinkResult{}, errors.Wrap(err, "lookup user")
	}
	if !user.IsActive {
		return MagicLinkResult{Sent: false}, nil
	}

	if err := s.issueMagicLink(user.Email, user.FullName, false); err != nil {
		return MagicLinkResult{}, err
	}
	return MagicLinkResult{Sent: true}, nil
}

// RegisterUser creates the account if absent and always issues a magic
// link. Repeat registrations for the same email reuse the existing user.
func (s *Service) RegisterUser(email, fullName string) (models.User, error) {
	user, err := s.users.GetUserByEmail(email)
	isNew := false
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return models.User{}, errors.Wrap(err, "lookup user")
		}
		user, err = s.users.CreateUser(email, fullName)
		if err != nil {
			return models.User{}, errors.Wrap(err, "create user")
		}
		isNew = true
	}

	if err := s.issueMagicLink(user.Email, user.FullName, isNew); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// issueMagicLink generates, stores, and emails one login token. The raw
// token must never reach a log line; persistence errors are wrapped
// without it.
func (s *Service) issueMagicLink(email, fullName string, isNewUser bool) error {
	raw, err := token.Generate()
	if err != nil {
		return errors.Wrap(err, "generate token")
	}

	expiresAt := s.now().Add(s.cfg.MagicLinkTTL)
	if _, err := s.links.Create(email, token.Hash(raw), expiresAt); err != nil {
		return errors.Wrap(err, "store magic link token")
	}

	url := fmt.Sprintf(s.cfg.MagicLinkURLTemplate, raw)
	if err := s.mailer.SendMagicLink(email, url, fullName, isNewUser); err != nil {
		// Delivery is fire-and-forget; the token stays valid in case a
		// retried send goes through.
		s.logger.Error().Err(err).Msg("failed to send magic link email")
	}

	return nil
}

// LoginWithMagicLink redeems a raw token and establishes a session.
// Redemption deletes the token row atomically, so two concurrent calls
// with the same token grant at most one session.
func (s *Service) LoginWithMagicLink(raw string, meta RequestMeta) (LoginResult, error) {
	ml, err := s.links.Redeem(token.Hash(raw), s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginResult{}, ErrInvalidOrExpiredToken
		}
		return LoginResult{}, errors.Wrap(err, "redeem magic link")
	}

	user, err := s.users.GetUserByEmail(ml.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginResult{}, ErrInvalidOrExpiredToken
		}
		return LoginResult{}, errors.Wrap(err, "load user")
	}

	sessionToken, err := token.Generate()
	if err != nil {
		return LoginResult{}, errors.Wrap(err, "generate session token")
	}

	session, err := s.sessions.Create(models.Session{
		UserID:    user.ID,
		TokenHash: token.Hash(sessionToken),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		ExpiresAt: s.now().Add(s.cfg.SessionTTL),
	})
	if err != nil {
		return LoginResult{}, errors.Wrap(err, "create session")
	}

	// "New" means never onboarded: no organization memberships yet.
	memberships, err := s.users.CountMemberships(user.ID)
	if err != nil {
		return LoginResult{}, errors.Wrap(err, "count memberships")
	}

	return LoginResult{
		User:         user,
		Session:      session,
		SessionToken: sessionToken,
		IsNewUser:    memberships == 0,
	}, nil
}

// ValidateSession is a pure lookup plus expiry check. A missing or
// expired session yields (nil, nil) so callers can uniformly return
// 401; only store failures produce an error.
func (s *Service) ValidateSession(raw string) (*SessionInfo, error) {
	if raw == "" {
		return nil, nil
	}

	session, err := s.sessions.GetByTokenHash(token.Hash(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lookup session")
	}
	if session.IsExpired(s.now()) {
		return nil, nil
	}

	user, err := s.users.GetUserByID(session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load user")
	}
	if !user.IsActive {
		return nil, nil
	}

	return &SessionInfo{User: user, Session: session}, nil
}

// Logout deletes the session; deleting an absent session is a no-op.
func (s *Service) Logout(raw string) error {
	if raw == "" {
		return nil
	}
	return s.sessions.Delete(token.Hash(raw))
}
