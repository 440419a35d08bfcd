package livechat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types sent by the relay.
const (
	EventJoined            = "joined"
	EventRoster            = "roster"
	EventHistory           = "history"
	EventNewMessage        = "new_message"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTyping            = "typing"
	EventSessionOpened     = "session_opened"
	EventSessionClosed     = "session_closed"
	EventError             = "error"
)

// Message represents a chat message.
type Message struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	SessionID  string    `json:"session_id"`
	Sender     string    `json:"sender"`
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cursor is the value to pass as before to page past this message.
func (m Message) Cursor() int64 { return m.CreatedAt.UnixMicro() }

// Session is the relay's view of a conversation.
type Session struct {
	ID           string     `json:"session_id"`
	SiteID       string     `json:"site_id"`
	VisitorID    string     `json:"visitor_id"`
	State        string     `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ClosedBy     string     `json:"closed_by,omitempty"`
	Participants int        `json:"participants"`
}

// Participant is one connection attached to a session.
type Participant struct {
	ConnectionID string    `json:"connection_id"`
	Role         string    `json:"role"`
	Identity     string    `json:"identity"`
	DisplayName  string    `json:"display_name,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
	Typing       bool      `json:"typing"`
}

// Event is one event received from the relay.
type Event struct {
	Type          string        `json:"type"`
	Ts            int64         `json:"ts"`
	RequestID     string        `json:"request_id,omitempty"`
	SiteID        string        `json:"site_id,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	Message       *Message      `json:"message,omitempty"`
	Messages      []Message     `json:"messages,omitempty"`
	HasMore       bool          `json:"has_more,omitempty"`
	Participant   *Participant  `json:"participant,omitempty"`
	Participants  []Participant `json:"participants,omitempty"`
	Session       *Session      `json:"session,omitempty"`
	Sessions      []Session     `json:"sessions,omitempty"`
	ParticipantID string        `json:"participant_id,omitempty"`
	Typing        *bool         `json:"typing,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Code          string        `json:"code,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Err returns the event as an *Error if it is an error event.
func (e Event) Err() error {
	if e.Type != EventError {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Error}
}

type outbound struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Token     string `json:"token,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Typing    bool   `json:"typing,omitempty"`
	Before    int64  `json:"before,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Conn is a live relay connection.
type Conn struct {
	ws     *websocket.Conn
	events chan Event
	done   chan struct{}
	quit   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	err       error
}

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("livechat: connection closed")

// Join connects and joins a session. Visitors pass an empty sessionID and land in
// their own session; admins name the session to join.
func (c *Client) Join(ctx context.Context, siteID, sessionID string) (*Conn, Event, error) {
	return c.connect(ctx, outbound{Type: "join", SiteID: siteID, SessionID: sessionID})
}

// WatchSite connects as a roster watcher for the site. Admin only.
func (c *Client) WatchSite(ctx context.Context, siteID string) (*Conn, Event, error) {
	return c.connect(ctx, outbound{Type: "admin_join_site", SiteID: siteID})
}

// connect dials, sends the opening event and waits for the first reply, which is
// returned. An error reply closes the connection and is returned as *Error.
func (c *Client) connect(ctx context.Context, first outbound) (*Conn, Event, error) {
	target, err := c.wsURL()
	if err != nil {
		return nil, Event{}, err
	}
	ws, _, err := c.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, Event{}, err
	}

	first.Token = c.Token
	if err := ws.WriteJSON(first); err != nil {
		ws.Close()
		return nil, Event{}, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	var reply Event
	if err := ws.ReadJSON(&reply); err != nil {
		ws.Close()
		return nil, Event{}, err
	}
	if err := reply.Err(); err != nil {
		ws.Close()
		return nil, reply, err
	}
	ws.SetReadDeadline(time.Time{})

	conn := &Conn{
		ws:     ws,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go conn.readLoop()
	return conn, reply, nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer close(c.done)
	for {
		var ev Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			c.err = err
			return
		}
		select {
		case c.events <- ev:
		case <-c.quit:
			c.err = ErrClosed
			return
		}
	}
}

// Events streams relay events. It is closed when the connection ends.
func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is valid once Done is closed.
func (c *Conn) Err() error { return c.err }

// Next waits for the next event of the given type, discarding others.
func (c *Conn) Next(ctx context.Context, typ string) (Event, error) {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return Event{}, ErrClosed
			}
			if ev.Type == typ {
				return ev, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (c *Conn) write(ev outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(ev)
}

// Send posts a chat message to the current session.
func (c *Conn) Send(text string) error {
	return c.write(outbound{Type: "send_message", Text: text})
}

// SetTyping updates the typing indicator.
func (c *Conn) SetTyping(typing bool) error {
	return c.write(outbound{Type: "set_typing", Typing: typing})
}

// CloseSession closes the current session. Admin only.
func (c *Conn) CloseSession() error {
	return c.write(outbound{Type: "close_session"})
}

// RequestHistory asks for a page of messages before the cursor.
func (c *Conn) RequestHistory(requestID string, before int64, limit int) error {
	return c.write(outbound{Type: "request_history", RequestID: requestID, Before: before, Limit: limit})
}

// SwitchSession joins another session on the same connection. Admin only.
func (c *Conn) SwitchSession(sessionID string) error {
	return c.write(outbound{Type: "join", SessionID: sessionID})
}

// Watch registers the connection as a roster watcher. Admin only.
func (c *Conn) Watch() error {
	return c.write(outbound{Type: "admin_join_site"})
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
