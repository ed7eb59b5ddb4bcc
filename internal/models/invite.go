package models

import "time"

// SecurityMode controls what additional proof a guest must present
// when redeeming an invite token.
type SecurityMode string

const (
	ModeOpen            SecurityMode = "open"
	ModeLinkLocked      SecurityMode = "link_locked"
	ModePasscode        SecurityMode = "passcode"
	ModeOTPFirstTime    SecurityMode = "otp_first_time"
	ModeOTPEverySession SecurityMode = "otp_every_session"
	ModeOTPEveryTime    SecurityMode = "otp_every_time"
)

func IsValidSecurityMode(mode SecurityMode) bool {
	switch mode {
	case ModeOpen, ModeLinkLocked, ModePasscode,
		ModeOTPFirstTime, ModeOTPEverySession, ModeOTPEveryTime:
		return true
	}
	return false
}

// RequiresOTP reports whether the mode involves a one-time code at all.
func (m SecurityMode) RequiresOTP() bool {
	switch m {
	case ModeOTPFirstTime, ModeOTPEverySession, ModeOTPEveryTime:
		return true
	}
	return false
}

// OTPState is the explicit state of the one-time-code challenge for a
// validation attempt.
type OTPState string

const (
	OTPNoneRequired OTPState = "none_required"
	OTPPending      OTPState = "otp_pending"
	OTPVerified     OTPState = "otp_verified"
)

// Invite is a per-guest (or per-group) RSVP access grant. Revocation is
// terminal; regeneration swaps the token hash in place so the old raw
// token stops matching while the row, mode, and access history survive.
type Invite struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	SiteID        string       `json:"site_id"`
	GuestID       *string      `json:"guest_id,omitempty"`
	GroupID       *string      `json:"group_id,omitempty"`
	SecurityMode  SecurityMode `json:"security_mode"`
	PasscodeHash  *string      `json:"-"`
	TokenHash     string       `json:"-"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	RevokedAt     *time.Time   `json:"revoked_at,omitempty"`
	OTPVerifiedAt *time.Time   `json:"otp_verified_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsExpired determines whether the invite has expired. A nil expiry
// never expires.
func (i Invite) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// IsRevoked indicates whether the invite has been revoked.
func (i Invite) IsRevoked() bool {
	return i.RevokedAt != nil
}

// OTPChallenge is a pending one-time code for an invite. Codes are
// short-lived, attempt-capped, and consumed on first success.
type OTPChallenge struct {
	ID         string     `json:"id"`
	InviteID   string     `json:"invite_id"`
	CodeHash   string     `json:"-"`
	Attempts   int        `json:"attempts"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

func (c OTPChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c OTPChallenge) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// OrgInvite is a pending invitation for a staff member to join an
// organization.
type OrgInvite struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	Role           MemberRole `json:"role"`
	TokenHash      string     `json:"-"`
	CreatedBy      *string    `json:"created_by,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsExpired determines whether the invite has expired.
func (i OrgInvite) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// IsUsed indicates whether the invite has already been accepted.
func (i OrgInvite) IsUsed() bool {
	return i.AcceptedAt != nil
}
