package models

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of a session. It only moves forward.
type SessionState int

const (
	SessionOpen SessionState = iota
	SessionActive
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *SessionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = SessionOpen
	case "active":
		*s = SessionActive
	case "closed":
		*s = SessionClosed
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// CloseReason records why a session was closed.
type CloseReason string

const (
	ClosedByVisitorDisconnect CloseReason = "visitor-disconnect"
	ClosedByAdmin             CloseReason = "admin-close"
	ClosedByTimeout           CloseReason = "timeout"
)

// Session is a point-in-time view of one visitor's conversation thread on one site.
type Session struct {
	ID           string       `json:"session_id"`
	SiteID       string       `json:"site_id"`
	VisitorID    string       `json:"visitor_id"`
	State        SessionState `json:"state"`
	CreatedAt    time.Time    `json:"created_at"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	ClosedBy     CloseReason  `json:"closed_by,omitempty"`
	Participants int          `json:"participants"`
}
