package models

import "time"

// Message represents one chat utterance. CreatedAt is server-assigned and strictly
// increasing within a session.
type Message struct {
	ID         string    `json:"id"` // ULID
	SiteID     string    `json:"site_id"`
	SessionID  string    `json:"session_id"`
	SenderRole Role      `json:"sender"`
	SenderID   string    `json:"sender_id,omitempty"` // admin identity; empty for visitors
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cursor returns the value used as the "before" cursor to page past this message.
func (m Message) Cursor() int64 {
	return m.CreatedAt.UnixMicro()
}
