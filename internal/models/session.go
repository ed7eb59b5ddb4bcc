package models

import "time"

// Session is a server-side staff session created on magic-link
// redemption. Only the SHA-256 hash of the opaque token is stored.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired determines whether the session has expired.
func (s Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// GuestSession scopes repeated RSVP access to one invite from one
// device. It exists so the per-session OTP mode has something to bind
// a completed challenge to; guests have no user account.
type GuestSession struct {
	ID            string     `json:"id"`
	InviteID      string     `json:"invite_id"`
	TokenHash     string     `json:"-"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

func (s GuestSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// OTPVerified indicates whether this session has completed an OTP
// challenge.
func (s GuestSession) OTPVerified() bool {
	return s.OTPVerifiedAt != nil
}
