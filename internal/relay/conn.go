package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/arinzecomie/livechat-relay/internal/metrics"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
)

// Conn is the handle for one admitted connection. Outbound events are queued on a
// bounded channel drained by the transport; a connection that falls behind is
// dropped rather than allowed to block the router.
type Conn struct {
	id        string
	principal models.Principal
	site      *siteState
	admitted  time.Time
	logger    zerolog.Logger
	limiter   *rate.Limiter

	events    chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
	leaveOnce sync.Once

	mu       sync.Mutex
	session  *Session
	watching bool
}

// ID returns the connection ID.
func (c *Conn) ID() string { return c.id }

// Principal returns the authenticated identity behind the connection.
func (c *Conn) Principal() models.Principal { return c.principal }

// Events is the outbound event stream. It is never closed; stop reading when Done is closed.
func (c *Conn) Events() <-chan protocol.Event { return c.events }

// Done is closed when the relay wants the transport to drop the connection.
func (c *Conn) Done() <-chan struct{} { return c.done }

// SessionID returns the session the connection is bound to, if any.
func (c *Conn) SessionID() string {
	if s := c.currentSession(); s != nil {
		return s.id
	}
	return ""
}

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() zerolog.Logger { return c.logger }

// Send queues an event for this connection only.
func (c *Conn) Send(ev protocol.Event) bool {
	return c.send(ev)
}

func (c *Conn) send(ev protocol.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		metrics.OutboundDropped.Inc()
		c.logger.Warn().Str("event", ev.Type).Msg("outbound buffer full, dropping connection")
		c.kick()
		return false
	}
}

// kick asks the transport to close the connection; the transport then reports
// the disconnect through Gateway.OnDisconnect.
func (c *Conn) kick() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) currentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Conn) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// clearSession unbinds s if it is still the current session.
func (c *Conn) clearSession(s *Session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
}

func (c *Conn) participant(joinedAt time.Time) models.Participant {
	return models.Participant{
		ConnectionID: c.id,
		Role:         c.principal.Role,
		Identity:     c.principal.Identity,
		DisplayName:  c.principal.DisplayName,
		JoinedAt:     joinedAt,
	}
}
