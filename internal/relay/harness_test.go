package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/directory"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

// tokenAuth treats the token as a key into a fixed table of principals.
type tokenAuth map[string]models.Principal

func (a tokenAuth) Authenticate(ctx context.Context, creds auth.Credentials) (models.Principal, error) {
	p, ok := a[creds.Token]
	if !ok {
		return models.Principal{}, auth.ErrUnauthorized
	}
	return p, nil
}

// frozenClock always reports the same instant, so stamps rely on the per-session counter.
func frozenClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

type failingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	failing bool
	hold    chan struct{} // when set, Append waits for it to close
	entered chan struct{} // signalled when an Append starts waiting
}

func (s *failingStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

// stall makes Append block until release is called. The returned channel
// receives once per Append that has started waiting.
func (s *failingStore) stall() (entered <-chan struct{}, release func()) {
	hold := make(chan struct{})
	ch := make(chan struct{}, 16)
	s.mu.Lock()
	s.hold, s.entered = hold, ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() { once.Do(func() { close(hold) }) }
}

func (s *failingStore) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	failing, hold, entered := s.failing, s.hold, s.entered
	s.mu.Unlock()
	if failing {
		return models.Message{}, errors.New("disk on fire")
	}
	if hold != nil {
		entered <- struct{}{}
		select {
		case <-hold:
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}
	return s.MemoryStore.Append(ctx, msg)
}

type harness struct {
	state    *State
	registry *Registry
	router   *Router
	gateway  *Gateway
	store    *failingStore
	auth     tokenAuth
}

func newHarness(t *testing.T, opts Options, sites ...string) *harness {
	t.Helper()

	dir, err := directory.ParseStatic(sites, false)
	require.NoError(t, err)

	h := &harness{
		state: NewState(),
		store: &failingStore{MemoryStore: store.NewMemoryStore()},
		auth:  tokenAuth{},
	}
	logger := zerolog.Nop()
	h.router = NewRouter(h.store, opts, logger)
	h.registry = NewRegistry(h.state, h.router, opts, logger)
	h.gateway = NewGateway(h.state, h.registry, h.router, h.auth, dir, opts, logger)
	return h
}

func (h *harness) visitor(token, siteID, identity string) string {
	h.auth[token] = models.Principal{SiteID: siteID, Role: models.RoleVisitor, Identity: identity, DisplayName: "Visitor " + identity}
	return token
}

func (h *harness) admin(token, siteID, identity string) string {
	h.auth[token] = models.Principal{SiteID: siteID, Role: models.RoleAdmin, Identity: identity, DisplayName: "Agent " + identity}
	return token
}

func (h *harness) join(t *testing.T, token string, ev protocol.Inbound) *Conn {
	t.Helper()
	if ev.Type == "" {
		ev.Type = protocol.TypeJoin
	}
	c, err := h.gateway.Admit(context.Background(), auth.Credentials{Token: token}, ev)
	require.NoError(t, err)
	t.Cleanup(func() { h.gateway.OnDisconnect(c) })
	return c
}

func (h *harness) send(t *testing.T, c *Conn, text string) {
	t.Helper()
	require.NoError(t, h.gateway.ForwardInbound(context.Background(), c, protocol.Inbound{
		Type: protocol.TypeSendMessage,
		Text: text,
	}))
}

// next waits for the next event of type typ on c, discarding others.
func next(t *testing.T, c *Conn, typ string) protocol.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s on %s", typ, c.ID())
			return protocol.Event{}
		}
	}
}

// drain returns every queued event without waiting.
func drain(c *Conn) []protocol.Event {
	var out []protocol.Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(events []protocol.Event, typ string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func messageTexts(events []protocol.Event) []string {
	var out []string
	for _, ev := range ofType(events, protocol.TypeNewMessage) {
		out = append(out, ev.Message.Text)
	}
	return out
}
