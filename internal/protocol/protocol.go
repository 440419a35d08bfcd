// Package protocol defines the event envelopes exchanged between chat clients and
// the relay. It is transport-agnostic; the WebSocket binding sends one JSON
// envelope per text frame.
package protocol

import (
	"time"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// Event types from client to relay
const (
	TypeJoin           = "join"
	TypeAdminJoinSite  = "admin_join_site"
	TypeSendMessage    = "send_message"
	TypeSetTyping      = "set_typing"
	TypeCloseSession   = "close_session"
	TypeRequestHistory = "request_history"
)

// Event types from relay to client
const (
	TypeJoined            = "joined"
	TypeRoster            = "roster"
	TypeHistory           = "history"
	TypeNewMessage        = "new_message"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeTyping            = "typing"
	TypeSessionOpened     = "session_opened"
	TypeSessionClosed     = "session_closed"
	TypeError             = "error"
)

// Error codes
const (
	CodeUnauthorized            = "unauthorized"
	CodeSiteSuspended           = "site_suspended"
	CodeConnectionLimitExceeded = "connection_limit_exceeded"
	CodeForbidden               = "forbidden"
	CodePersistenceFailed       = "persistence_failed"
	CodeSessionClosed           = "session_closed"
	CodeSessionRequired         = "session_required"
	CodeInvalidMessage          = "invalid_message"
	CodeRateLimited             = "rate_limited"
	CodeUnavailable             = "unavailable"
	CodeInternalError           = "internal_error"
)

// Inbound is one client event. Which fields are meaningful depends on Type.
type Inbound struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// join / admin_join_site
	Token     string `json:"token,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
	SessionID string `json:"session_id,omitempty"` // session hint on join

	// send_message
	Text string `json:"text,omitempty"`

	// set_typing
	Typing bool `json:"typing,omitempty"`

	// request_history
	Before int64 `json:"before,omitempty"` // Unix microseconds, exclusive
	Limit  int   `json:"limit,omitempty"`
}

// Event is one outbound relay event.
type Event struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Message      *models.Message      `json:"message,omitempty"`
	Messages     []models.Message     `json:"messages,omitempty"`
	HasMore      bool                 `json:"has_more,omitempty"`
	Participant  *models.Participant  `json:"participant,omitempty"`
	Participants []models.Participant `json:"participants,omitempty"`
	Session      *models.Session      `json:"session,omitempty"`
	Sessions     []models.Session     `json:"sessions,omitempty"`

	// typing
	ParticipantID string `json:"participant_id,omitempty"`
	IsTyping      *bool  `json:"typing,omitempty"`

	// session_closed
	Reason models.CloseReason `json:"reason,omitempty"`

	// error
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func newEvent(typ, siteID, sessionID string) Event {
	return Event{Type: typ, Ts: time.Now().UnixMilli(), SiteID: siteID, SessionID: sessionID}
}

// NewMessage builds a new_message event.
func NewMessage(msg models.Message) Event {
	ev := newEvent(TypeNewMessage, msg.SiteID, msg.SessionID)
	ev.Message = &msg
	return ev
}

// History builds a history page event.
func History(siteID, sessionID string, msgs []models.Message, hasMore bool) Event {
	ev := newEvent(TypeHistory, siteID, sessionID)
	if msgs == nil {
		msgs = []models.Message{}
	}
	ev.Messages = msgs
	ev.HasMore = hasMore
	return ev
}

// Joined acknowledges a join with the session and its current participants.
func Joined(sess models.Session, self models.Participant, participants []models.Participant) Event {
	ev := newEvent(TypeJoined, sess.SiteID, sess.ID)
	ev.Session = &sess
	ev.Participant = &self
	ev.Participants = participants
	return ev
}

// Roster lists a site's open and active sessions.
func Roster(siteID string, sessions []models.Session) Event {
	ev := newEvent(TypeRoster, siteID, "")
	if sessions == nil {
		sessions = []models.Session{}
	}
	ev.Sessions = sessions
	return ev
}

// ParticipantJoined announces a participant joining a session.
func ParticipantJoined(sess models.Session, p models.Participant) Event {
	ev := newEvent(TypeParticipantJoined, sess.SiteID, sess.ID)
	ev.Session = &sess
	ev.Participant = &p
	return ev
}

// ParticipantLeft announces a participant leaving a session.
func ParticipantLeft(sess models.Session, p models.Participant) Event {
	ev := newEvent(TypeParticipantLeft, sess.SiteID, sess.ID)
	ev.Session = &sess
	ev.Participant = &p
	return ev
}

// Typing announces a typing state change.
func Typing(siteID, sessionID, participantID string, typing bool) Event {
	ev := newEvent(TypeTyping, siteID, sessionID)
	ev.ParticipantID = participantID
	ev.IsTyping = &typing
	return ev
}

// SessionOpened tells roster watchers about a new session.
func SessionOpened(sess models.Session) Event {
	ev := newEvent(TypeSessionOpened, sess.SiteID, sess.ID)
	ev.Session = &sess
	return ev
}

// SessionClosed announces the terminal transition of a session.
func SessionClosed(sess models.Session) Event {
	ev := newEvent(TypeSessionClosed, sess.SiteID, sess.ID)
	ev.Session = &sess
	ev.Reason = sess.ClosedBy
	return ev
}

// Error builds an error event.
func Error(requestID, code, message string) Event {
	ev := newEvent(TypeError, "", "")
	ev.RequestID = requestID
	ev.Code = code
	ev.Error = message
	return ev
}
