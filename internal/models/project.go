package models

import "time"

// Project is a single event (wedding, gala) within an organization.
// Full project CRUD lives in the main product API; this service only
// needs enough of the shape to issue and validate invites against it.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Guest is an invitee on a project's guest list. Email is required for
// OTP-protected invites; it is where challenge codes are delivered.
type Guest struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	FullName  string    `json:"full_name"`
	Email     *string   `json:"email,omitempty"`
	GroupID   *string   `json:"group_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
