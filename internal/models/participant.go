package models

import "time"

// Role distinguishes website visitors from the site's support agents.
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleVisitor || r == RoleAdmin
}

// Principal is the identity yielded by the authentication collaborator.
type Principal struct {
	SiteID      string `json:"site_id"`
	Role        Role   `json:"role"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name,omitempty"`
}

// Participant is one live connection bound to a session.
type Participant struct {
	ConnectionID string    `json:"connection_id"`
	Role         Role      `json:"role"`
	Identity     string    `json:"identity"`
	DisplayName  string    `json:"display_name,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
	Typing       bool      `json:"typing"`
	TypingAt     time.Time `json:"typing_at,omitempty"`
}
