package invite

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/gatherly/gatherly-api/internal/accesslog"
	"github.com/gatherly/gatherly-api/internal/config"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInviteRepo struct {
	byID       map[string]models.Invite
	challenges map[string][]models.OTPChallenge
	guestEmail string
}

func newFakeInviteRepo() *fakeInviteRepo {
	return &fakeInviteRepo{
		byID:       map[string]models.Invite{},
		challenges: map[string][]models.OTPChallenge{},
		guestEmail: "guest@example.com",
	}
}

func (f *fakeInviteRepo) CreateInvite(invite models.Invite) (models.Invite, error) {
	invite.ID = uuid.NewString()
	invite.CreatedAt = time.Now()
	invite.UpdatedAt = invite.CreatedAt
	f.byID[invite.ID] = invite
	return invite, nil
}

func (f *fakeInviteRepo) GetInviteByID(inviteID string) (models.Invite, error) {
	invite, ok := f.byID[inviteID]
	if !ok {
		return models.Invite{}, sql.ErrNoRows
	}
	return invite, nil
}

func (f *fakeInviteRepo) GetInviteByTokenHash(tokenHash string) (models.Invite, error) {
	for _, invite := range f.byID {
		if invite.TokenHash == tokenHash {
			return invite, nil
		}
	}
	return models.Invite{}, sql.ErrNoRows
}

func (f *fakeInviteRepo) ListInvitesByProject(projectID string) ([]models.Invite, error) {
	var out []models.Invite
	for _, invite := range f.byID {
		if invite.ProjectID == projectID {
			out = append(out, invite)
		}
	}
	return out, nil
}

func (f *fakeInviteRepo) RevokeInvite(inviteID string, at time.Time) (models.Invite, error) {
	invite, ok := f.byID[inviteID]
	if !ok || invite.RevokedAt != nil {
		return models.Invite{}, sql.ErrNoRows
	}
	invite.RevokedAt = &at
	f.byID[inviteID] = invite
	return invite, nil
}

func (f *fakeInviteRepo) ReplaceToken(inviteID, newTokenHash string) (models.Invite, error) {
	invite, ok := f.byID[inviteID]
	if !ok || invite.RevokedAt != nil {
		return models.Invite{}, sql.ErrNoRows
	}
	invite.TokenHash = newTokenHash
	f.byID[inviteID] = invite
	return invite, nil
}

func (f *fakeInviteRepo) MarkOTPVerified(inviteID string, at time.Time) error {
	invite, ok := f.byID[inviteID]
	if !ok {
		return sql.ErrNoRows
	}
	invite.OTPVerifiedAt = &at
	f.byID[inviteID] = invite
	return nil
}

func (f *fakeInviteRepo) OTPDeliveryInfo(inviteID string) (string, string, error) {
	if f.guestEmail == "" {
		return "", "", sql.ErrNoRows
	}
	return f.guestEmail, "Smith Wedding", nil
}

func (f *fakeInviteRepo) CreateOTPChallenge(c models.OTPChallenge) (models.OTPChallenge, error) {
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	f.challenges[c.InviteID] = append(f.challenges[c.InviteID], c)
	return c, nil
}

func (f *fakeInviteRepo) GetLatestOTPChallenge(inviteID string) (models.OTPChallenge, error) {
	list := f.challenges[inviteID]
	if len(list) == 0 {
		return models.OTPChallenge{}, sql.ErrNoRows
	}
	return list[len(list)-1], nil
}

func (f *fakeInviteRepo) IncrementOTPAttempts(challengeID string) (int, error) {
	for inviteID, list := range f.challenges {
		for i, c := range list {
			if c.ID == challengeID {
				c.Attempts++
				f.challenges[inviteID][i] = c
				return c.Attempts, nil
			}
		}
	}
	return 0, sql.ErrNoRows
}

func (f *fakeInviteRepo) ConsumeOTPChallenge(challengeID string, at time.Time) error {
	for inviteID, list := range f.challenges {
		for i, c := range list {
			if c.ID == challengeID {
				if c.ConsumedAt != nil {
					return sql.ErrNoRows
				}
				c.ConsumedAt = &at
				f.challenges[inviteID][i] = c
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (f *fakeInviteRepo) DeleteExpiredOTPChallenges(now time.Time) (int64, error) { return 0, nil }

type fakeGuestSessionRepo struct {
	byHash map[string]models.GuestSession
}

func newFakeGuestSessionRepo() *fakeGuestSessionRepo {
	return &fakeGuestSessionRepo{byHash: map[string]models.GuestSession{}}
}

func (f *fakeGuestSessionRepo) Create(session models.Session) (models.Session, error) {
	return session, nil
}

func (f *fakeGuestSessionRepo) GetByTokenHash(string) (models.Session, error) {
	return models.Session{}, sql.ErrNoRows
}

func (f *fakeGuestSessionRepo) Delete(string) error { return nil }

func (f *fakeGuestSessionRepo) DeleteExpired(time.Time) (int64, error) { return 0, nil }

func (f *fakeGuestSessionRepo) CreateGuestSession(gs models.GuestSession) (models.GuestSession, error) {
	gs.ID = uuid.NewString()
	gs.CreatedAt = time.Now()
	f.byHash[gs.TokenHash] = gs
	return gs, nil
}

func (f *fakeGuestSessionRepo) GetGuestSessionByTokenHash(tokenHash string) (models.GuestSession, error) {
	gs, ok := f.byHash[tokenHash]
	if !ok {
		return models.GuestSession{}, sql.ErrNoRows
	}
	return gs, nil
}

func (f *fakeGuestSessionRepo) MarkGuestSessionOTPVerified(sessionID string, at time.Time) error {
	for hash, gs := range f.byHash {
		if gs.ID == sessionID {
			gs.OTPVerifiedAt = &at
			f.byHash[hash] = gs
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeGuestSessionRepo) DeleteExpiredGuestSessions(time.Time) (int64, error) { return 0, nil }

type countingLogRepo struct {
	mu      sync.Mutex
	entries []models.InviteAccessLog
}

func (c *countingLogRepo) Append(entry models.InviteAccessLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *countingLogRepo) ListByInvite(string, int) ([]models.InviteAccessLog, error) {
	return nil, nil
}

func (c *countingLogRepo) CountByInvite(inviteID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.InviteID == inviteID {
			n++
		}
	}
	return n, nil
}

func (c *countingLogRepo) DeleteOlderThan(time.Time) (int64, error) { return 0, nil }

type otpMailer struct {
	codes []string
}

func (m *otpMailer) SendMagicLink(string, string, string, bool) error { return nil }

func (m *otpMailer) SendGuestOTP(recipientEmail, code, projectName string) error {
	m.codes = append(m.codes, code)
	return nil
}

func (m *otpMailer) SendOrganizationInvite(string, string, string, string, string) error {
	return nil
}

type inviteFixture struct {
	svc      *Service
	invites  *fakeInviteRepo
	sessions *fakeGuestSessionRepo
	logs     *countingLogRepo
	recorder *accesslog.Recorder
	mailer   *otpMailer
}

func newInviteFixture(t *testing.T) *inviteFixture {
	t.Helper()
	f := &inviteFixture{
		invites:  newFakeInviteRepo(),
		sessions: newFakeGuestSessionRepo(),
		logs:     &countingLogRepo{},
		mailer:   &otpMailer{},
	}
	f.recorder = accesslog.NewRecorder(f.logs, zerolog.Nop())
	t.Cleanup(f.recorder.Close)

	cfg := config.AuthConfig{
		GuestSessionTTL: 24 * time.Hour,
		OTPTTL:          10 * time.Minute,
	}
	f.svc = NewService(f.invites, f.sessions, f.recorder, f.mailer, cfg, zerolog.Nop())
	return f
}

// accessCount flushes the recorder and returns the invite's log rows.
func (f *inviteFixture) accessCount(t *testing.T, inviteID string) int {
	t.Helper()
	f.recorder.Close()
	n, err := f.logs.CountByInvite(inviteID)
	require.NoError(t, err)
	return n
}

func (f *inviteFixture) create(t *testing.T, params CreateParams) (models.Invite, string) {
	t.Helper()
	if params.ProjectID == "" {
		params.ProjectID = "project-1"
	}
	if params.SiteID == "" {
		params.SiteID = "site-1"
	}
	invite, raw, err := f.svc.Create(params)
	require.NoError(t, err)
	return invite, raw
}

func (f *inviteFixture) lastOTPCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mailer.codes)
	return f.mailer.codes[len(f.mailer.codes)-1]
}

func TestCreateStoresHashNotToken(t *testing.T) {
	f := newInviteFixture(t)

	invite, raw := f.create(t, CreateParams{SecurityMode: models.ModeOpen})

	assert.NotEmpty(t, raw)
	assert.NotEqual(t, raw, invite.TokenHash)
	assert.Nil(t, invite.ExpiresAt)
}

func TestCreateRejectsInvalidMode(t *testing.T) {
	f := newInviteFixture(t)

	_, _, err := f.svc.Create(CreateParams{ProjectID: "p", SiteID: "s", SecurityMode: "vip"})
	assert.Error(t, err)
}

func TestCreatePasscodeModeRequiresPasscode(t *testing.T) {
	f := newInviteFixture(t)

	_, _, err := f.svc.Create(CreateParams{ProjectID: "p", SiteID: "s", SecurityMode: models.ModePasscode})
	assert.ErrorIs(t, err, ErrPasscodeRequired)
}

func TestValidateOpenInvite(t *testing.T) {
	f := newInviteFixture(t)
	invite, raw := f.create(t, CreateParams{SecurityMode: models.ModeOpen})

	result, err := f.svc.Validate(raw, ValidateParams{IPAddress: "1.2.3.4", UserAgent: "test"})

	require.NoError(t, err)
	assert.False(t, result.RequiresOTP)
	assert.Equal(t, models.OTPNoneRequired, result.OTPState)
	assert.NotEmpty(t, result.GuestSessionToken)
	assert.Equal(t, 1, f.accessCount(t, invite.ID))
}

func TestValidateUnknownToken(t *testing.T) {
	f := newInviteFixture(t)

	_, err := f.svc.Validate("bogus", ValidateParams{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredInvite(t *testing.T) {
	f := newInviteFixture(t)
	past := time.Now().Add(-time.Hour)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOpen, ExpiresAt: &past})

	_, err := f.svc.Validate(raw, ValidateParams{})
	assert.ErrorIs(t, err, ErrInviteExpired)
}

func TestValidateRevokedInvite(t *testing.T) {
	f := newInviteFixture(t)
	invite, raw := f.create(t, CreateParams{SecurityMode: models.ModeOpen})

	_, err := f.svc.Revoke(invite.ID)
	require.NoError(t, err)

	_, err = f.svc.Validate(raw, ValidateParams{})
	assert.ErrorIs(t, err, ErrInviteRevoked)
	assert.Equal(t, 0, f.accessCount(t, invite.ID))
}

func TestValidatePasscodeMatrix(t *testing.T) {
	f := newInviteFixture(t)
	passcode := "7291"
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModePasscode, Passcode: &passcode})

	_, err := f.svc.Validate(raw, ValidateParams{})
	assert.ErrorIs(t, err, ErrPasscodeRequired)

	wrong := "0000"
	_, err = f.svc.Validate(raw, ValidateParams{Passcode: &wrong})
	assert.ErrorIs(t, err, ErrInvalidPasscode)

	result, err := f.svc.Validate(raw, ValidateParams{Passcode: &passcode})
	require.NoError(t, err)
	assert.Equal(t, models.OTPNoneRequired, result.OTPState)
	assert.NotEmpty(t, result.GuestSessionToken)
}

func TestValidateFirstTimeOTPPending(t *testing.T) {
	f := newInviteFixture(t)
	invite, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPFirstTime})

	result, err := f.svc.Validate(raw, ValidateParams{})

	require.NoError(t, err)
	assert.True(t, result.RequiresOTP)
	assert.Equal(t, models.OTPPending, result.OTPState)
	assert.Empty(t, result.GuestSessionToken)
	// No access is granted until the code is verified.
	assert.Equal(t, 0, f.accessCount(t, invite.ID))
}

func TestOTPFirstTimeFlow(t *testing.T) {
	f := newInviteFixture(t)
	invite, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPFirstTime})

	require.NoError(t, f.svc.RequestOTP(raw))
	code := f.lastOTPCode(t)

	result, err := f.svc.VerifyOTP(raw, code, ValidateParams{IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, models.OTPVerified, result.OTPState)
	assert.NotEmpty(t, result.GuestSessionToken)

	// First-time mode sticks: later validations need no code at all.
	later, err := f.svc.Validate(raw, ValidateParams{})
	require.NoError(t, err)
	assert.False(t, later.RequiresOTP)
	assert.Equal(t, models.OTPNoneRequired, later.OTPState)

	assert.Equal(t, 2, f.accessCount(t, invite.ID))
}

func TestOTPEverySessionFlow(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPEverySession})

	require.NoError(t, f.svc.RequestOTP(raw))
	result, err := f.svc.VerifyOTP(raw, f.lastOTPCode(t), ValidateParams{})
	require.NoError(t, err)
	require.NotEmpty(t, result.GuestSessionToken)

	// Same session skips the code.
	again, err := f.svc.Validate(raw, ValidateParams{GuestSessionToken: result.GuestSessionToken})
	require.NoError(t, err)
	assert.False(t, again.RequiresOTP)
	assert.Equal(t, models.OTPVerified, again.OTPState)

	// A new visitor without the session token starts over.
	fresh, err := f.svc.Validate(raw, ValidateParams{})
	require.NoError(t, err)
	assert.True(t, fresh.RequiresOTP)
}

func TestOTPEveryTimeAlwaysChallenges(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPEveryTime})

	require.NoError(t, f.svc.RequestOTP(raw))
	result, err := f.svc.VerifyOTP(raw, f.lastOTPCode(t), ValidateParams{})
	require.NoError(t, err)

	// Even the verified session is challenged again on the next visit.
	again, err := f.svc.Validate(raw, ValidateParams{GuestSessionToken: result.GuestSessionToken})
	require.NoError(t, err)
	assert.True(t, again.RequiresOTP)
	assert.Equal(t, models.OTPPending, again.OTPState)
}

func TestRequestOTPOnOpenInvite(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOpen})

	assert.ErrorIs(t, f.svc.RequestOTP(raw), ErrOTPNotRequired)
}

func TestRequestOTPWithoutGuestEmail(t *testing.T) {
	f := newInviteFixture(t)
	f.invites.guestEmail = ""
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPEveryTime})

	assert.ErrorIs(t, f.svc.RequestOTP(raw), ErrGuestEmailMissing)
}

func TestVerifyOTPWrongCode(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPEveryTime})
	require.NoError(t, f.svc.RequestOTP(raw))

	_, err := f.svc.VerifyOTP(raw, "000000", ValidateParams{})
	assert.ErrorIs(t, err, ErrInvalidOTP)

	// The right code still works after a failed guess.
	_, err = f.svc.VerifyOTP(raw, f.lastOTPCode(t), ValidateParams{})
	assert.NoError(t, err)
}

func TestVerifyOTPAttemptCap(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPEveryTime})
	require.NoError(t, f.svc.RequestOTP(raw))

	for i := 0; i < maxOTPAttempts; i++ {
		_, err := f.svc.VerifyOTP(raw, "000000", ValidateParams{})
		assert.ErrorIs(t, err, ErrInvalidOTP)
	}

	// The cap blocks even the correct code once exhausted.
	_, err := f.svc.VerifyOTP(raw, f.lastOTPCode(t), ValidateParams{})
	assert.ErrorIs(t, err, ErrTooManyOTPAttempts)
}

func TestVerifyOTPConsumedChallenge(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPEveryTime})
	require.NoError(t, f.svc.RequestOTP(raw))
	code := f.lastOTPCode(t)

	_, err := f.svc.VerifyOTP(raw, code, ValidateParams{})
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(raw, code, ValidateParams{})
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTPExpiredChallenge(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOTPEveryTime})
	require.NoError(t, f.svc.RequestOTP(raw))
	code := f.lastOTPCode(t)

	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err := f.svc.VerifyOTP(raw, code, ValidateParams{})
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newInviteFixture(t)
	invite, _ := f.create(t, CreateParams{SecurityMode: models.ModeOpen})

	first, err := f.svc.Revoke(invite.ID)
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)

	second, err := f.svc.Revoke(invite.ID)
	require.NoError(t, err)
	assert.Equal(t, first.RevokedAt, second.RevokedAt)
}

func TestRevokeUnknownInvite(t *testing.T) {
	f := newInviteFixture(t)

	_, err := f.svc.Revoke(uuid.NewString())
	assert.ErrorIs(t, err, ErrInviteNotFound)
}

func TestRegenerateToken(t *testing.T) {
	f := newInviteFixture(t)
	invite, oldRaw := f.create(t, CreateParams{SecurityMode: models.ModeOpen})

	updated, newRaw, err := f.svc.RegenerateToken(invite.ID)
	require.NoError(t, err)
	assert.Equal(t, invite.ID, updated.ID)
	assert.NotEqual(t, oldRaw, newRaw)

	// The old link goes dark; the new one works.
	_, err = f.svc.Validate(oldRaw, ValidateParams{})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Validate(newRaw, ValidateParams{})
	assert.NoError(t, err)
}

func TestRegenerateTokenOnRevokedInvite(t *testing.T) {
	f := newInviteFixture(t)
	invite, _ := f.create(t, CreateParams{SecurityMode: models.ModeOpen})
	_, err := f.svc.Revoke(invite.ID)
	require.NoError(t, err)

	_, _, err = f.svc.RegenerateToken(invite.ID)
	assert.ErrorIs(t, err, ErrInviteRevoked)
}

func TestValidateReusesPresentedGuestSession(t *testing.T) {
	f := newInviteFixture(t)
	_, raw := f.create(t, CreateParams{SecurityMode: models.ModeOpen})

	first, err := f.svc.Validate(raw, ValidateParams{})
	require.NoError(t, err)
	require.NotEmpty(t, first.GuestSessionToken)

	// Presenting a live session does not mint another one.
	second, err := f.svc.Validate(raw, ValidateParams{GuestSessionToken: first.GuestSessionToken})
	require.NoError(t, err)
	assert.Empty(t, second.GuestSessionToken)
	assert.Len(t, f.sessions.byHash, 1)
}
