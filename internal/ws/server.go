// Package ws binds WebSocket connections to the relay gateway.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
	"github.com/arinzecomie/livechat-relay/internal/relay"
)

// Config holds the transport settings.
type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration // also the deadline for the first event
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 * 1024
	}
	return c
}

// Server handles WebSocket connections.
type Server struct {
	cfg      Config
	gateway  *relay.Gateway
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	closing  bool
	handlers sync.WaitGroup
}

// NewServer creates a new WebSocket server.
func NewServer(gw *relay.Gateway, cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Widgets are embedded on customer sites; tokens, not origins, scope access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws").Logger(),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	if !s.track(ws) {
		closeWith(ws, websocket.CloseGoingAway, "server shutting down", s.cfg.WriteTimeout)
		return
	}
	defer s.untrack(ws)

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	s.serve(r.Context(), ws, bearerToken(r))
}

func (s *Server) serve(ctx context.Context, ws *websocket.Conn, headerToken string) {
	first, err := s.readFirst(ws)
	if errors.Is(err, relay.ErrInvalidEvent) {
		s.reject(ws, "", protocol.CodeInvalidMessage, err)
		return
	}
	if err != nil {
		ws.Close()
		return
	}
	token := first.Token
	if token == "" {
		token = headerToken
	}

	c, err := s.gateway.Admit(ctx, auth.Credentials{Token: token}, first)
	if err != nil {
		s.reject(ws, first.RequestID, relay.ErrorCode(err), err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(ws, c)
	}()

	s.readPump(ctx, ws, c)
	s.gateway.OnDisconnect(c)
	<-done
}

// readFirst waits for the join or admin_join_site event that opens every connection.
func (s *Server) readFirst(ws *websocket.Conn) (protocol.Inbound, error) {
	ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	var ev protocol.Inbound
	_, data, err := ws.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, relay.ErrInvalidEvent
	}
	return ev, nil
}

// reject writes an error event and a close frame carrying the error code.
func (s *Server) reject(ws *websocket.Conn, requestID, code string, err error) {
	s.logger.Debug().Err(err).Str("code", code).Msg("connection rejected")

	ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_ = ws.WriteJSON(protocol.Error(requestID, code, publicMessage(err)))

	status := websocket.ClosePolicyViolation
	switch code {
	case protocol.CodeConnectionLimitExceeded, protocol.CodeUnavailable:
		status = websocket.CloseTryAgainLater
	case protocol.CodeInternalError:
		status = websocket.CloseInternalServerErr
	}
	closeWith(ws, status, code, s.cfg.WriteTimeout)
}

// readPump reads events from the WebSocket connection and forwards them to the gateway.
func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, c *relay.Conn) {
	logger := c.Logger()
	ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var ev protocol.Inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			c.Send(protocol.Error("", protocol.CodeInvalidMessage, "invalid JSON event"))
			continue
		}
		if err := s.gateway.ForwardInbound(ctx, c, ev); err != nil {
			logger.Debug().Err(err).Str("event", ev.Type).Msg("event rejected")
			c.Send(protocol.Error(ev.RequestID, relay.ErrorCode(err), publicMessage(err)))
		}
	}
}

// writePump drains the connection's outbound events and keeps it alive with pings.
// It owns all writes once the connection is admitted.
func (s *Server) writePump(ws *websocket.Conn, c *relay.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case ev := <-c.Events():
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				logger := c.Logger()
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done():
			closeWith(ws, websocket.CloseNormalClosure, "", s.cfg.WriteTimeout)
			return
		}
	}
}

func (s *Server) track(ws *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[ws] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(ws *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, ws)
	s.mu.Unlock()
	s.handlers.Done()
}

// Shutdown sends a going-away close frame to every live connection and waits
// for their handlers to finish, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for ws := range s.conns {
		conns = append(conns, ws)
	}
	s.mu.Unlock()

	for _, ws := range conns {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(s.cfg.WriteTimeout))
		// Unblocks the read pump; the handler then runs the gateway disconnect.
		ws.Close()
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Int("connections", len(conns)).Msg("websocket connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of open WebSocket connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func closeWith(ws *websocket.Conn, code int, text string, timeout time.Duration) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(timeout))
	ws.Close()
}

// bearerToken reads the credential from the Authorization header or the token
// query parameter, for clients that cannot set headers on the upgrade request.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// publicMessage hides internal detail from clients.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, relay.ErrInternal):
		return "internal error"
	case errors.Is(err, relay.ErrPersistenceFailed):
		return relay.ErrPersistenceFailed.Error()
	case errors.Is(err, relay.ErrHistoryFailed):
		return relay.ErrHistoryFailed.Error()
	case relay.IsAdmissionError(err):
		var ae *relay.AdmissionError
		errors.As(err, &ae)
		return ae.Reason.Error()
	}
	return err.Error()
}
