// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

// Package gateway is the websocket front door: it upgrades connections,
// decodes typed client messages, and routes them to the session registry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/playrelay/playrelay/internal/observability"
	"github.com/playrelay/playrelay/internal/session"
)

// Server accepts websocket clients and dispatches their messages. Identity
// for every authorized operation is resolved through the connection handle,
// never from client-declared usernames.
type Server struct {
	addr     string
	registry *session.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	shutdown func()

	upgrader   websocket.Upgrader
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
	closing    atomic.Bool

	mu      sync.RWMutex
	clients map[ulid.ULID]*client
	wg      sync.WaitGroup
}

// NewServer creates a gateway bound to the registry. shutdown is invoked
// once when a moderator requests server stop; metrics and logger may be
// nil. addr uses "host:port" form.
func NewServer(addr string, registry *session.Registry, metrics *observability.Metrics, logger *slog.Logger, shutdown func()) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		shutdown: shutdown,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The protocol is token-authenticated, not cookie-based, so
			// cross-origin browser clients are allowed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[ulid.ULID]*client),
	}
}

// Start begins accepting websocket connections on /ws. It returns an
// error channel that reports HTTP server failures after startup; the
// channel closes on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("gateway already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return errCh, nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stop broadcasts Closing, disconnects every client, and shuts the HTTP
// server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.closing.Store(true)

	if frame, err := encode(msgClosing, true); err == nil {
		s.broadcast(frame, ulid.ULID{})
	}

	s.mu.Lock()
	for _, c := range s.clients {
		close(c.done)
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.With("operation", "shutdown_gateway").Wrap(err)
		}
	}

	// Wait for connection goroutines, but respect the caller's deadline.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return oops.Wrap(ctx.Err())
	}

	s.logger.Info("gateway stopped")
	return nil
}

// BroadcastTick fans one tick snapshot out to every connected client.
// Delivery is fire-and-forget: frames to slow clients are dropped.
func (s *Server) BroadcastTick(objects []session.Object) {
	frame, err := encode(msgTick, objects)
	if err != nil {
		s.logger.Error("failed to encode tick frame", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.TicksTotal.Inc()
	}
	s.broadcast(frame, ulid.ULID{})
}

// broadcast enqueues a frame to every client except the one whose handle
// matches skip (zero handle means no exclusion).
func (s *Server) broadcast(frame []byte, skip ulid.ULID) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for handle, c := range s.clients {
		if handle == skip {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			s.dropFrame(c)
		}
	}
}

func (s *Server) dropFrame(c *client) {
	if s.metrics != nil {
		s.metrics.DroppedFramesTotal.Inc()
	}
	s.logger.Warn("dropped frame on slow client", "conn_handle", c.handle.String())
}

// handleWS upgrades the HTTP request and runs the connection until it
// closes. One goroutine reads, one writes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(conn)
	s.mu.Lock()
	s.clients[c.handle] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectedClients.Inc()
	}
	s.logger.Info("client connected", "conn_handle", c.handle.String(), "remote", r.RemoteAddr)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(c)
	}()
}

// readPump decodes inbound envelopes and dispatches them until the
// connection dies, then tears the client down.
func (s *Server) readPump(c *client) {
	defer s.teardown(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("client read failed", "conn_handle", c.handle.String(), "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(c, errBadRequest)
			continue
		}
		if closing := s.dispatch(c, env); closing {
			return
		}
	}
}

// dispatch routes one inbound envelope. Reports true when the connection
// should close.
func (s *Server) dispatch(c *client, env envelope) bool {
	switch env.Type {
	case msgAuth:
		s.handleAuth(c, env.Data)
	case msgWebAuth:
		s.handleWebAuth(c, env.Data)
	case msgUpdate:
		s.handleUpdateState(c, env.Data)
	case msgLogout:
		s.handleLogout(c, env.Data)
	case msgEvent:
		s.handleEvent(c, env.Data)
	case msgOff:
		s.handleOff(c)
	case msgDisconnect:
		return true
	default:
		s.logger.Debug("unknown message type", "type", env.Type, "conn_handle", c.handle.String())
		s.sendError(c, errBadRequest)
	}
	return false
}

func (s *Server) handleAuth(c *client, data json.RawMessage) {
	var req authRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, errBadRequest)
		return
	}
	s.logger.Info("login attempt", "username", req.Username, "conn_handle", c.handle.String())

	token, err := s.registry.LoginOrCreate(req.Username, req.Password, c.handle)
	if err != nil {
		s.recordAuth("failure")
		s.logger.Warn("login failed", "username", req.Username, "error", err)
		s.sendEnvelope(c, msgAuthFail, true)
		return
	}

	s.recordAuth("success")
	s.logger.Info("login succeeded", "username", req.Username)
	s.sendEnvelope(c, msgAuthSuccess, token)
}

func (s *Server) handleWebAuth(c *client, data json.RawMessage) {
	var req authRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, errBadRequest)
		return
	}

	token, err := s.registry.WebLogin(req.Username, req.Password)
	if err != nil {
		s.recordAuth("failure")
		s.sendEnvelope(c, msgAuthFail, true)
		return
	}

	s.recordAuth("success")
	s.sendEnvelope(c, msgAuthSuccess, token)
}

func (s *Server) handleUpdateState(c *client, data json.RawMessage) {
	p := s.registry.FindByConnectionHandle(c.handle)
	if p == nil {
		s.sendError(c, errNotLoggedIn)
		return
	}

	var req updateStateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, errBadRequest)
		return
	}
	if err := p.ReplaceAllObjects(req.Token, req.Data); err != nil {
		s.logger.Warn("state update rejected",
			"username", p.Username(),
			"conn_handle", c.handle.String(),
		)
		s.sendError(c, errTokenInvalid)
	}
}

func (s *Server) handleLogout(c *client, data json.RawMessage) {
	var req logoutRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, errBadRequest)
		return
	}
	if !s.registry.LogoutHandle(c.handle, req.Token) {
		// A bound connection presenting a bad token for its own session
		// is a protocol contract violation, not ordinary user error.
		s.logger.Warn("logout with invalid token, possible tampering",
			"conn_handle", c.handle.String(),
		)
		s.sendError(c, errTokenInvalid)
	}
}

// handleEvent relays an opaque payload to every other connection. The
// payload is never interpreted server-side.
func (s *Server) handleEvent(c *client, data json.RawMessage) {
	if s.registry.FindByConnectionHandle(c.handle) == nil {
		s.sendError(c, errNotLoggedIn)
		return
	}
	s.logger.Debug("relaying event", "conn_handle", c.handle.String(), "bytes", len(data))

	frame, err := json.Marshal(envelope{Type: msgEvent, Data: data})
	if err != nil {
		s.sendError(c, errBadRequest)
		return
	}
	s.broadcast(frame, c.handle)
}

// handleOff begins cooperative shutdown when requested by a moderator.
// Non-moderator and unauthenticated requests are silently ignored.
func (s *Server) handleOff(c *client) {
	p := s.registry.FindByConnectionHandle(c.handle)
	if p == nil || !p.IsModerator() {
		return
	}
	s.logger.Info("shutdown requested by moderator", "username", p.Username())
	if s.shutdown != nil {
		s.shutdown()
	}
}

// teardown force-logs-out the session bound to the connection and removes
// the client. Runs exactly once per connection, from the read side.
func (s *Server) teardown(c *client) {
	if s.registry.DisconnectHandle(c.handle) {
		s.logger.Info("client session disconnected", "conn_handle", c.handle.String())
	} else {
		s.logger.Info("unauthenticated client disconnected", "conn_handle", c.handle.String())
	}

	s.mu.Lock()
	if _, ok := s.clients[c.handle]; ok {
		delete(s.clients, c.handle)
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	s.mu.Unlock()

	_ = c.conn.Close()
	if s.metrics != nil {
		s.metrics.ConnectedClients.Dec()
	}
}

func (s *Server) sendEnvelope(c *client, msgType string, data any) {
	frame, err := encode(msgType, data)
	if err != nil {
		s.logger.Error("failed to encode frame", "type", msgType, "error", err)
		return
	}
	if !c.enqueue(frame) {
		s.dropFrame(c)
	}
}

func (s *Server) sendError(c *client, code string) {
	s.sendEnvelope(c, msgError, code)
}

func (s *Server) recordAuth(result string) {
	if s.metrics != nil {
		s.metrics.AuthAttemptsTotal.WithLabelValues(result).Inc()
	}
}
