package models

import "time"

// InviteAccessLog is one append-only audit row per granted invite
// validation. Rows are never mutated; retention is handled by the
// background sweeper.
type InviteAccessLog struct {
	ID         string    `json:"id"`
	InviteID   string    `json:"invite_id"`
	AccessedAt time.Time `json:"accessed_at"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
}
