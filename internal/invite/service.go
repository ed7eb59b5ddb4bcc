// Package invite implements guest invite issuance and the
// security-mode validation state machine: open and link-locked access,
// passcode checks, and the one-time-code flow with its first-time,
// per-session, and every-time variants.
package invite

import (
	"database/sql"
	"time"

	"github.com/gatherly/gatherly-api/internal/accesslog"
	"github.com/gatherly/gatherly-api/internal/config"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/notification"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/gatherly/gatherly-api/internal/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid invite token")
	ErrInviteNotFound     = errors.New("invite not found")
	ErrInviteRevoked      = errors.New("invite has been revoked")
	ErrInviteExpired      = errors.New("invite has expired")
	ErrPasscodeRequired   = errors.New("passcode required")
	ErrInvalidPasscode    = errors.New("invalid passcode")
	ErrOTPNotRequired     = errors.New("invite does not use one-time codes")
	ErrInvalidOTP         = errors.New("invalid one-time code")
	ErrOTPExpired         = errors.New("one-time code expired")
	ErrTooManyOTPAttempts = errors.New("too many incorrect code attempts")
	ErrGuestEmailMissing  = errors.New("invite has no guest email for code delivery")
)

const maxOTPAttempts = 5

type Service struct {
	invites  repository.InviteRepository
	sessions repository.SessionRepository
	recorder *accesslog.Recorder
	mailer   notification.Mailer
	cfg      config.AuthConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	invites repository.InviteRepository,
	sessions repository.SessionRepository,
	recorder *accesslog.Recorder,
	mailer notification.Mailer,
	cfg config.AuthConfig,
	logger zerolog.Logger,
) *Service {
	return &Service{
		invites:  invites,
		sessions: sessions,
		recorder: recorder,
		mailer:   mailer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "invite").Logger(),
		now:      time.Now,
	}
}

// CreateParams describes a new guest invite.
type CreateParams struct {
	ProjectID    string
	SiteID       string
	GuestID      *string
	GroupID      *string
	SecurityMode models.SecurityMode
	Passcode     *string
	ExpiresAt    *time.Time
}

// Create issues an invite and returns it together with the raw token.
// The raw token exists only in this return value and the delivery
// email; only its hash is stored.
func (s *Service) Create(params CreateParams) (models.Invite, string, error) {
	if !models.IsValidSecurityMode(params.SecurityMode) {
		return models.Invite{}, "", errors.Errorf("invalid security mode %q", params.SecurityMode)
	}

	var passcodeHash *string
	if params.SecurityMode == models.ModePasscode {
		if params.Passcode == nil || *params.Passcode == "" {
			return models.Invite{}, "", ErrPasscodeRequired
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*params.Passcode), bcrypt.DefaultCost)
		if err != nil {
			return models.Invite{}, "", errors.Wrap(err, "hash passcode")
		}
		hashStr := string(hash)
		passcodeHash = &hashStr
	}

	raw, err := token.Generate()
	if err != nil {
		return models.Invite{}, "", errors.Wrap(err, "generate invite token")
	}

	invite, err := s.invites.CreateInvite(models.Invite{
		ProjectID:    params.ProjectID,
		SiteID:       params.SiteID,
		GuestID:      params.GuestID,
		GroupID:      params.GroupID,
		SecurityMode: params.SecurityMode,
		PasscodeHash: passcodeHash,
		TokenHash:    token.Hash(raw),
		ExpiresAt:    params.ExpiresAt,
	})
	if err != nil {
		return models.Invite{}, "", errors.Wrap(err, "store invite")
	}

	return invite, raw, nil
}

// ValidateParams carries everything a guest presents alongside the raw
// invite token.
type ValidateParams struct {
	Passcode          *string
	GuestSessionToken string
	IPAddress         string
	UserAgent         string
}

// ValidateResult is the outcome of a validation attempt. When OTPState
// is OTPPending no access has been granted yet; the guest must complete
// a code challenge first.
type ValidateResult struct {
	Invite            models.Invite
	RequiresOTP       bool
	OTPState          models.OTPState
	GuestSessionToken string
}

// Validate applies the invite's security mode to a presented token.
// Checks run in a fixed order: token, revocation, expiry, passcode,
// then the one-time-code state machine. An access-log row is recorded
// on every granted outcome before the result is returned.
func (s *Service) Validate(raw string, params ValidateParams) (ValidateResult, error) {
	invite, err := s.lookup(raw)
	if err != nil {
		return ValidateResult{}, err
	}

	if err := s.checkPasscode(invite, params.Passcode); err != nil {
		return ValidateResult{}, err
	}

	state, session := s.resolveOTPState(invite, params.GuestSessionToken)
	if state == models.OTPPending {
		return ValidateResult{
			Invite:      invite,
			RequiresOTP: true,
			OTPState:    models.OTPPending,
		}, nil
	}

	sessionToken, err := s.grant(invite, session, params.IPAddress, params.UserAgent)
	if err != nil {
		return ValidateResult{}, err
	}

	return ValidateResult{
		Invite:            invite,
		RequiresOTP:       false,
		OTPState:          state,
		GuestSessionToken: sessionToken,
	}, nil
}

func (s *Service) lookup(raw string) (models.Invite, error) {
	invite, err := s.invites.GetInviteByTokenHash(token.Hash(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invite{}, ErrInvalidToken
		}
		return models.Invite{}, errors.Wrap(err, "lookup invite")
	}
	if invite.IsRevoked() {
		return models.Invite{}, ErrInviteRevoked
	}
	if invite.IsExpired(s.now()) {
		return models.Invite{}, ErrInviteExpired
	}
	return invite, nil
}

func (s *Service) checkPasscode(invite models.Invite, passcode *string) error {
	if invite.SecurityMode != models.ModePasscode {
		return nil
	}
	if invite.PasscodeHash == nil {
		// The schema forbids this; treat it as a broken invite rather
		// than an open one.
		return errors.New("passcode invite has no passcode hash")
	}
	if passcode == nil || *passcode == "" {
		return ErrPasscodeRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*invite.PasscodeHash), []byte(*passcode)); err != nil {
		return ErrInvalidPasscode
	}
	return nil
}

// resolveOTPState decides where the presented credentials sit in the
// code-challenge state machine, returning the reusable guest session if
// one was presented and still valid.
func (s *Service) resolveOTPState(invite models.Invite, guestSessionToken string) (models.OTPState, *models.GuestSession) {
	session := s.liveGuestSession(invite.ID, guestSessionToken)

	switch invite.SecurityMode {
	case models.ModeOTPFirstTime:
		if invite.OTPVerifiedAt != nil {
			return models.OTPNoneRequired, session
		}
		return models.OTPPending, session
	case models.ModeOTPEverySession:
		if session != nil && session.OTPVerified() {
			return models.OTPVerified, session
		}
		return models.OTPPending, session
	case models.ModeOTPEveryTime:
		return models.OTPPending, session
	default:
		return models.OTPNoneRequired, session
	}
}

func (s *Service) liveGuestSession(inviteID, raw string) *models.GuestSession {
	if raw == "" {
		return nil
	}
	session, err := s.sessions.GetGuestSessionByTokenHash(token.Hash(raw))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn().Err(err).Msg("guest session lookup failed")
		}
		return nil
	}
	if session.InviteID != inviteID || session.IsExpired(s.now()) {
		return nil
	}
	return &session
}

// grant records the access and returns a guest session token, reusing
// the presented session when it is still live.
func (s *Service) grant(invite models.Invite, session *models.GuestSession, ip, userAgent string) (string, error) {
	s.recorder.Record(invite.ID, ip, userAgent)

	if session != nil {
		// Caller keeps using the token it presented.
		return "", nil
	}

	raw, err := token.Generate()
	if err != nil {
		return "", errors.Wrap(err, "generate guest session token")
	}
	if _, err := s.sessions.CreateGuestSession(models.GuestSession{
		InviteID:  invite.ID,
		TokenHash: token.Hash(raw),
		ExpiresAt: s.now().Add(s.cfg.GuestSessionTTL),
	}); err != nil {
		return "", errors.Wrap(err, "create guest session")
	}

	return raw, nil
}

// RequestOTP creates a fresh code challenge for an OTP-mode invite and
// emails it to the invite's guest.
func (s *Service) RequestOTP(raw string) error {
	invite, err := s.lookup(raw)
	if err != nil {
		return err
	}
	if !invite.SecurityMode.RequiresOTP() {
		return ErrOTPNotRequired
	}

	email, projectName, err := s.invites.OTPDeliveryInfo(invite.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGuestEmailMissing
		}
		return errors.Wrap(err, "lookup guest email")
	}

	code, err := token.GenerateOTPCode()
	if err != nil {
		return errors.Wrap(err, "generate code")
	}

	if _, err := s.invites.CreateOTPChallenge(models.OTPChallenge{
		InviteID:  invite.ID,
		CodeHash:  token.Hash(code),
		ExpiresAt: s.now().Add(s.cfg.OTPTTL),
	}); err != nil {
		return errors.Wrap(err, "store code challenge")
	}

	if err := s.mailer.SendGuestOTP(email, code, projectName); err != nil {
		s.logger.Error().Err(err).Str("invite_id", invite.ID).Msg("failed to send code email")
	}

	return nil
}

// VerifyOTP checks a presented code against the invite's latest
// challenge. Success consumes the challenge, marks the session (and,
// for first-time mode, the invite) verified, and grants access.
func (s *Service) VerifyOTP(raw, code string, params ValidateParams) (ValidateResult, error) {
	invite, err := s.lookup(raw)
	if err != nil {
		return ValidateResult{}, err
	}
	if !invite.SecurityMode.RequiresOTP() {
		return ValidateResult{}, ErrOTPNotRequired
	}
	if err := s.checkPasscode(invite, params.Passcode); err != nil {
		return ValidateResult{}, err
	}

	challenge, err := s.invites.GetLatestOTPChallenge(invite.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ValidateResult{}, ErrInvalidOTP
		}
		return ValidateResult{}, errors.Wrap(err, "lookup challenge")
	}
	if challenge.IsConsumed() || challenge.IsExpired(s.now()) {
		return ValidateResult{}, ErrOTPExpired
	}

	attempts, err := s.invites.IncrementOTPAttempts(challenge.ID)
	if err != nil {
		return ValidateResult{}, errors.Wrap(err, "count attempt")
	}
	if attempts > maxOTPAttempts {
		return ValidateResult{}, ErrTooManyOTPAttempts
	}

	if !token.HashEqual(code, challenge.CodeHash) {
		return ValidateResult{}, ErrInvalidOTP
	}

	// Conditional consume: a concurrent verify of the same challenge
	// wins exactly once.
	if err := s.invites.ConsumeOTPChallenge(challenge.ID, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ValidateResult{}, ErrOTPExpired
		}
		return ValidateResult{}, errors.Wrap(err, "consume challenge")
	}

	if invite.SecurityMode == models.ModeOTPFirstTime {
		if err := s.invites.MarkOTPVerified(invite.ID, s.now()); err != nil {
			return ValidateResult{}, errors.Wrap(err, "mark invite verified")
		}
	}

	session := s.liveGuestSession(invite.ID, params.GuestSessionToken)
	sessionToken := params.GuestSessionToken
	if session == nil {
		sessionToken, err = token.Generate()
		if err != nil {
			return ValidateResult{}, errors.Wrap(err, "generate guest session token")
		}
		created, err := s.sessions.CreateGuestSession(models.GuestSession{
			InviteID:  invite.ID,
			TokenHash: token.Hash(sessionToken),
			ExpiresAt: s.now().Add(s.cfg.GuestSessionTTL),
		})
		if err != nil {
			return ValidateResult{}, errors.Wrap(err, "create guest session")
		}
		session = &created
	}
	if err := s.sessions.MarkGuestSessionOTPVerified(session.ID, s.now()); err != nil {
		return ValidateResult{}, errors.Wrap(err, "mark session verified")
	}

	s.recorder.Record(invite.ID, params.IPAddress, params.UserAgent)

	return ValidateResult{
		Invite:            invite,
		RequiresOTP:       false,
		OTPState:          models.OTPVerified,
		GuestSessionToken: sessionToken,
	}, nil
}

// Revoke is terminal and idempotent: revoking an already-revoked invite
// returns it unchanged.
func (s *Service) Revoke(inviteID string) (models.Invite, error) {
	invite, err := s.invites.RevokeInvite(inviteID, s.now())
	if err == nil {
		return invite, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Invite{}, errors.Wrap(err, "revoke invite")
	}

	invite, err = s.invites.GetInviteByID(inviteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invite{}, ErrInviteNotFound
		}
		return models.Invite{}, errors.Wrap(err, "load invite")
	}
	return invite, nil
}

// RegenerateToken replaces the invite's token hash in place. The old
// raw token stops matching immediately while the invite's id, mode, and
// access history are preserved.
func (s *Service) RegenerateToken(inviteID string) (models.Invite, string, error) {
	raw, err := token.Generate()
	if err != nil {
		return models.Invite{}, "", errors.Wrap(err, "generate invite token")
	}

	invite, err := s.invites.ReplaceToken(inviteID, token.Hash(raw))
	if err == nil {
		return invite, raw, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Invite{}, "", errors.Wrap(err, "replace token")
	}

	existing, err := s.invites.GetInviteByID(inviteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invite{}, "", ErrInviteNotFound
		}
		return models.Invite{}, "", errors.Wrap(err, "load invite")
	}
	if existing.IsRevoked() {
		return models.Invite{}, "", ErrInviteRevoked
	}
	return models.Invite{}, "", ErrInviteNotFound
}

// GetByID loads an invite for staff management endpoints.
func (s *Service) GetByID(inviteID string) (models.Invite, error) {
	invite, err := s.invites.GetInviteByID(inviteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invite{}, ErrInviteNotFound
		}
		return models.Invite{}, errors.Wrap(err, "load invite")
	}
	return invite, nil
}

// ListByProject returns a project's invites for the staff dashboard.
func (s *Service) ListByProject(projectID string) ([]models.Invite, error) {
	invites, err := s.invites.ListInvitesByProject(projectID)
	if err != nil {
		return nil, errors.Wrap(err, "list invites")
	}
	return invites, nil
}
