package models

import "time"

// MagicLinkToken is a single-use login token. The row is deleted
// atomically on redemption, so a raw token can only ever establish one
// session.
type MagicLinkToken struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired determines whether the token has expired.
func (t MagicLinkToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
