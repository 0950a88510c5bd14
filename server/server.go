// Package server exposes one functor registry to many connected hosts.
//
// Every connection, WebSocket or framed TCP, becomes a Session with its own runtime:
//
//	Accept conn → transport → rpcruntime.Runtime (shared registry, own correlation table)
//	  → inbound requests run in parallel through the middleware chain
//	  → native code may call back into the host through Session.Runtime()
//
// Shutdown deregisters from discovery first so clients stop picking this server, then
// stops accepting, closes every session and waits for in-flight requests.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/discovery"
	"bridge-rpc/functor"
	"bridge-rpc/middleware"
	"bridge-rpc/rpcruntime"
	"bridge-rpc/transport"
)

// ErrServerClosed is returned by the Serve methods after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Session is one connected host.
type Session struct {
	id        string
	remote    string
	transport string
	started   time.Time
	rt        *rpcruntime.Runtime
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) RemoteAddr() string           { return s.remote }
func (s *Session) Runtime() *rpcruntime.Runtime { return s.rt }

// SessionInfo is a snapshot of a session for monitoring.
type SessionInfo struct {
	ID        string           `json:"id"`
	Remote    string           `json:"remote"`
	Transport string           `json:"transport"`
	Started   time.Time        `json:"started"`
	Stats     rpcruntime.Stats `json:"stats"`
}

// Server serves a functor registry over WebSocket and TCP.
type Server struct {
	id          string
	registry    *functor.Registry
	opts        options
	log         *zap.Logger
	middlewares []middleware.Middleware

	mu        sync.Mutex
	sessions  map[string]*Session
	listeners []net.Listener
	https     []*http.Server
	announced []discovery.ServiceInstance

	wg       sync.WaitGroup // One per live session
	shutdown atomic.Bool
}

// NewServer creates a server dispatching to reg.
func NewServer(reg *functor.Registry, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.NewString()
	return &Server{
		id:       id,
		registry: reg,
		opts:     o,
		log:      o.log.With(zap.String("server", id)),
		sessions: make(map[string]*Session),
	}
}

// ID returns the server's instance id, also used when announcing.
func (s *Server) ID() string { return s.id }

// Use appends a middleware. Middlewares apply in the order they are added and
// only affect sessions opened afterwards.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mu.Unlock()
}

// Handler returns the HTTP handler serving the WebSocket endpoint and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.path, s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ServeWebSocket serves Handler on l until Shutdown.
func (s *Server) ServeWebSocket(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.log),
	}
	if !s.track(l, srv) {
		return ErrServerClosed
	}

	s.log.Info("serving websocket", zap.Stringer("addr", l.Addr()), zap.String("path", s.opts.path))
	err := srv.Serve(l)
	if s.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeTCP accepts framed stream connections on l until Shutdown.
func (s *Server) ServeTCP(l net.Listener) error {
	if !s.track(l, nil) {
		return ErrServerClosed
	}

	s.log.Info("serving tcp", zap.Stringer("addr", l.Addr()))
	for {
		conn, err := l.Accept()
		if err != nil {
			// Accept fails once Shutdown closes the listener
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		t := transport.NewStreamTransport(conn,
			transport.WithCodec(s.opts.codec),
			transport.WithHeartbeat(s.opts.heartbeat),
			transport.WithLogger(s.log))
		go s.serveTransport(t, conn.RemoteAddr().String(), discovery.TransportTCP, s.opts.codec)
	}
}

func (s *Server) track(l net.Listener, srv *http.Server) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		l.Close()
		return false
	}
	// http.Server.Shutdown closes its own listener
	if srv != nil {
		s.https = append(s.https, srv)
	} else {
		s.listeners = append(s.listeners, l)
	}
	return true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.originPatterns})
	if err != nil {
		s.log.Warn("websocket handshake failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	t := transport.NewWebSocketTransport(conn,
		transport.WithCodec(s.opts.codec),
		transport.WithLogger(s.log))

	// the connection lives as long as this handler
	s.serveTransport(t, r.RemoteAddr, discovery.TransportWebSocket, s.opts.codec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.shutdown.Load() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"id":       s.id,
		"sessions": len(s.Sessions()),
		"methods":  s.methods(),
	})
}

// ServeTransport runs a session over an already connected transport, such as an
// embedded script host, until it closes. ct is the codec the peer speaks.
func (s *Server) ServeTransport(t transport.Transport, remote string, ct codec.CodecType) {
	s.serveTransport(t, remote, "local", ct)
}

// serveTransport runs one session until its transport closes.
func (s *Server) serveTransport(t transport.Transport, remote, kind string, ct codec.CodecType) {
	sess := &Session{
		id:        uuid.NewString(),
		remote:    remote,
		transport: kind,
		started:   time.Now(),
	}
	log := s.log.With(zap.String("session", sess.id), zap.String("remote", remote))

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		t.Close()
		return
	}
	opts := []rpcruntime.Option{
		rpcruntime.WithCodec(ct),
		rpcruntime.WithLogger(log),
		rpcruntime.WithConcurrency(s.opts.concurrency),
		rpcruntime.WithRequestTimeout(s.opts.requestTimeout),
		rpcruntime.WithUnhandledRequestPolicy(rpcruntime.RejectUnhandled),
		rpcruntime.WithMiddleware(s.middlewares...),
	}
	sess.rt = rpcruntime.New(t, s.registry, opts...)
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	log.Info("session opened", zap.String("transport", kind))
	sess.rt.Start()
	if s.opts.onSession != nil {
		s.opts.onSession(sess)
	}

	<-sess.rt.Done()
	sess.rt.Close()
	stats := sess.rt.Stats()
	log.Info("session closed",
		zap.Uint64("served", stats.Served),
		zap.Uint64("failed", stats.Failed),
		zap.Uint64("orphaned", stats.Orphaned),
		zap.Duration("lifetime", time.Since(sess.started)))
}

func (s *Server) methods() []string {
	if s.registry == nil {
		return []string{}
	}
	return s.registry.Names()
}

// Sessions returns the live sessions ordered by start time.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:        sess.id,
			Remote:    sess.remote,
			Transport: sess.transport,
			Started:   sess.started,
			Stats:     sess.rt.Stats(),
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Started.Before(infos[j].Started) })
	return infos
}

// Announce registers an endpoint of this server in the discovery registry.
// ID and Methods are filled in when empty.
func (s *Server) Announce(ctx context.Context, instance discovery.ServiceInstance) error {
	if s.opts.discovery == nil {
		return errors.New("server: no discovery registry configured")
	}
	if instance.ID == "" {
		instance.ID = s.id
	}
	if instance.Codec == "" {
		instance.Codec = s.opts.codec.String()
	}
	if instance.Methods == nil {
		instance.Methods = s.methods()
	}

	if err := s.opts.discovery.Register(ctx, s.opts.serviceName, instance, s.opts.ttl); err != nil {
		return fmt.Errorf("server: announce %s: %w", instance.Addr, err)
	}
	s.mu.Lock()
	s.announced = append(s.announced, instance)
	s.mu.Unlock()

	s.log.Info("announced", zap.String("service", s.opts.serviceName), zap.String("addr", instance.Addr))
	return nil
}

// Shutdown stops the server gracefully:
//  1. deregister from discovery so clients stop picking this server
//  2. stop accepting connections
//  3. close every session, failing their pending calls
//  4. wait for sessions to finish, or for ctx to end
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	announced := s.announced
	s.announced = nil
	listeners := s.listeners
	s.listeners = nil
	https := s.https
	s.https = nil
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var err error
	for _, inst := range announced {
		err = multierr.Append(err, s.opts.discovery.Deregister(ctx, s.opts.serviceName, inst.Addr))
	}
	for _, l := range listeners {
		if closeErr := l.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = multierr.Append(err, closeErr)
		}
	}
	for _, srv := range https {
		// hijacked websocket connections are not tracked by http.Server
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	for _, sess := range sessions {
		if closeErr := sess.rt.Close(); closeErr != nil {
			s.log.Debug("closing session", zap.String("session", sess.id), zap.Error(closeErr))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("server: waiting for sessions: %w", ctx.Err()))
	}

	s.log.Info("shutdown complete", zap.Int("sessions", len(sessions)))
	return err
}
