package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/crypto"
	"github.com/arinzecomie/livechat-relay/internal/directory"
	"github.com/arinzecomie/livechat-relay/internal/metrics"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
)

// Gateway turns authenticated connections into participants and applies their
// inbound events. It is transport-agnostic.
type Gateway struct {
	state     *State
	registry  *Registry
	router    *Router
	auth      auth.Authenticator
	directory directory.Directory
	opts      Options
	logger    zerolog.Logger
}

// NewGateway wires a gateway to the shared state and its collaborators.
func NewGateway(state *State, registry *Registry, router *Router, authn auth.Authenticator, dir directory.Directory, opts Options, logger zerolog.Logger) *Gateway {
	return &Gateway{
		state:     state,
		registry:  registry,
		router:    router,
		auth:      authn,
		directory: dir,
		opts:      opts.withDefaults(),
		logger:    logger.With().Str("component", "gateway").Logger(),
	}
}

// Registry exposes the session registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// Admit authenticates creds, checks the site and its connection limit, and binds
// the connection according to its first event: join (session participant) or
// admin_join_site (roster watcher). Every failure is an *AdmissionError or
// an event error for the first event; in both cases nothing stays registered.
func (g *Gateway) Admit(ctx context.Context, creds auth.Credentials, first protocol.Inbound) (*Conn, error) {
	if first.Type != protocol.TypeJoin && first.Type != protocol.TypeAdminJoinSite {
		return nil, fmt.Errorf("%w: first event must be %s or %s", ErrInvalidEvent, protocol.TypeJoin, protocol.TypeAdminJoinSite)
	}

	principal, err := g.auth.Authenticate(ctx, creds)
	if err != nil {
		return nil, g.rejected(reject(ErrUnauthorized, err), first.SiteID)
	}
	if first.SiteID != "" && first.SiteID != principal.SiteID {
		return nil, g.rejected(reject(ErrUnauthorized, errors.New("credentials belong to another site")), first.SiteID)
	}

	site, err := g.directory.GetSiteStatus(ctx, principal.SiteID)
	switch {
	case errors.Is(err, directory.ErrSiteNotFound):
		return nil, g.rejected(reject(ErrUnauthorized, err), principal.SiteID)
	case err != nil:
		return nil, g.rejected(reject(ErrSiteUnavailable, err), principal.SiteID)
	case !site.AcceptsConnections():
		return nil, g.rejected(reject(ErrSiteSuspended, nil), principal.SiteID)
	}

	ss := g.state.site(principal.SiteID)
	if !ss.reserve(g.opts.connectionLimit(site.ConnectionLimit)) {
		return nil, g.rejected(reject(ErrConnectionLimitExceeded, nil), principal.SiteID)
	}

	c := g.newConn(principal, ss)
	metrics.ConnectionsActive.Inc()

	if err := g.ForwardInbound(ctx, c, first); err != nil {
		g.OnDisconnect(c)
		return nil, err
	}

	c.logger.Info().Msg("connection admitted")
	return c, nil
}

func (g *Gateway) rejected(err error, siteID string) error {
	code := ErrorCode(err)
	metrics.AdmissionsRejected.WithLabelValues(code).Inc()
	g.logger.Info().
		Err(err).
		Str("site_id", siteID).
		Str("code", code).
		Msg("admission rejected")
	return err
}

func (g *Gateway) newConn(p models.Principal, ss *siteState) *Conn {
	id := crypto.NewID("conn")
	c := &Conn{
		id:        id,
		principal: p,
		site:      ss,
		admitted:  g.opts.Clock(),
		events:    make(chan protocol.Event, g.opts.SendBuffer),
		done:      make(chan struct{}),
		logger: g.logger.With().
			Str("conn_id", id).
			Str("site_id", p.SiteID).
			Str("role", string(p.Role)).
			Logger(),
	}
	if g.opts.MessageRate > 0 {
		c.limiter = rate.NewLimiter(g.opts.MessageRate, g.opts.MessageBurst)
	}
	return c
}

// ForwardInbound applies one inbound event for an admitted connection. Errors are
// local to the connection, which stays open.
func (g *Gateway) ForwardInbound(ctx context.Context, c *Conn, ev protocol.Inbound) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().
				Interface("panic", rec).
				Str("event", ev.Type).
				Msg("panic while handling event")
			err = ErrInternal
		}
	}()

	switch ev.Type {
	case protocol.TypeJoin:
		if ev.SiteID != "" && ev.SiteID != c.principal.SiteID {
			return fmt.Errorf("%w: site %q", ErrForbidden, ev.SiteID)
		}
		return g.join(ctx, c, ev)

	case protocol.TypeAdminJoinSite:
		if c.principal.Role != models.RoleAdmin {
			return fmt.Errorf("%w: only admins may watch a site", ErrForbidden)
		}
		if ev.SiteID != "" && ev.SiteID != c.principal.SiteID {
			return fmt.Errorf("%w: site %q", ErrForbidden, ev.SiteID)
		}
		g.registry.AdminJoinSite(c, ev.RequestID)
		return nil

	case protocol.TypeSendMessage:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return fmt.Errorf("%w: text is required", ErrInvalidEvent)
		}
		if utf8.RuneCountInString(text) > g.opts.MaxMessageLength {
			return fmt.Errorf("%w: text longer than %d characters", ErrInvalidEvent, g.opts.MaxMessageLength)
		}
		s := c.currentSession()
		if s == nil {
			return ErrNotJoined
		}
		if c.limiter != nil && !c.limiter.Allow() {
			return ErrRateLimited
		}
		_, err := g.router.RouteMessage(ctx, s, c, text)
		return err

	case protocol.TypeSetTyping:
		s := c.currentSession()
		if s == nil {
			return ErrNotJoined
		}
		return g.router.RouteTyping(s, c, ev.Typing)

	case protocol.TypeCloseSession:
		if c.principal.Role != models.RoleAdmin {
			return fmt.Errorf("%w: only admins may close a session", ErrForbidden)
		}
		s := c.currentSession()
		if s == nil {
			return ErrNotJoined
		}
		if g.registry.Close(s, models.ClosedByAdmin) {
			c.logger.Info().Str("session_id", s.id).Msg("session closed by admin")
		}
		return nil

	case protocol.TypeRequestHistory:
		s := c.currentSession()
		if s == nil {
			return ErrNotJoined
		}
		return g.router.SendHistory(ctx, s, c, ev.RequestID, ev.Before, ev.Limit)
	}

	return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
}

// join binds c to a session. Visitors always land in their own session, created on
// first contact; admins name the session to join and leave any previous one.
func (g *Gateway) join(ctx context.Context, c *Conn, ev protocol.Inbound) error {
	cur := c.currentSession()

	if c.principal.Role == models.RoleVisitor {
		if cur != nil && !cur.Closed() {
			return g.registry.AddParticipant(ctx, cur, c, ev.RequestID)
		}
		if cur != nil {
			g.registry.RemoveParticipant(cur, c)
		}
		// A session can close between lookup and join; the retry then creates a new one.
		for attempt := 0; attempt < 3; attempt++ {
			s, _ := g.registry.JoinOrCreate(c.principal.SiteID, c.principal.Identity)
			err := g.registry.AddParticipant(ctx, s, c, ev.RequestID)
			if !errors.Is(err, ErrSessionClosed) {
				return err
			}
		}
		return ErrSessionClosed
	}

	if ev.SessionID == "" {
		if cur == nil {
			return fmt.Errorf("%w: session_id is required", ErrInvalidEvent)
		}
		return g.registry.AddParticipant(ctx, cur, c, ev.RequestID)
	}

	s, ok := g.registry.Lookup(c.principal.SiteID, ev.SessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, ev.SessionID)
	}
	if s.Closed() {
		return ErrSessionClosed
	}
	if cur != nil && cur != s {
		g.registry.RemoveParticipant(cur, c)
	}
	return g.registry.AddParticipant(ctx, s, c, ev.RequestID)
}

// OnDisconnect releases everything held by c. It is safe to call more than once;
// only the first call has effect.
func (g *Gateway) OnDisconnect(c *Conn) {
	c.leaveOnce.Do(func() {
		if s := c.currentSession(); s != nil {
			g.registry.RemoveParticipant(s, c)
		}

		c.mu.Lock()
		watching := c.watching
		c.watching = false
		c.mu.Unlock()
		if watching {
			g.registry.LeaveSite(c)
		}

		c.site.release()
		metrics.ConnectionsActive.Dec()
		c.kick()
		c.logger.Info().Msg("connection closed")
	})
}
