// Package chat implements the core of the chatwire server: per-connection
// sessions, the concurrency-safe registry of live sessions, the command
// router, and the TCP accept loop that ties them together.
package chat

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdolezal/chatwire/internal/ratelimit"
	"github.com/mdolezal/chatwire/internal/wire"
)

// Server accepts TCP connections and runs one worker per connection. All
// workers share a single Registry; no error in one session may block or
// crash another.
type Server struct {
	addr     string
	registry *Registry
	router   *Router
	stats    *Stats
	log      logrus.FieldLogger

	limiter     *ratelimit.IPLimiter
	idleTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. The default discards nothing and
// writes logrus defaults to stderr.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithConnLimiter rate-limits connection attempts per source IP. Attempts
// over the limit are closed immediately after accept.
func WithConnLimiter(l *ratelimit.IPLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithIdleTimeout closes connections that stay silent longer than d.
// Zero (the default) disables the deadline; connections may block on a
// read indefinitely.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// New creates a Server listening on addr once Run is called.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		registry: NewRegistry(),
		stats:    NewStats(),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = NewRouter(s.registry, s.stats, s.log)
	return s
}

// Registry exposes the live-session registry, mainly for tests and stats.
func (s *Server) Registry() *Registry { return s.registry }

// Stats exposes the process-lifetime counters.
func (s *Server) Stats() *Stats { return s.stats }

// Run listens on the configured address and accepts connections until
// Shutdown closes the listener.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln. It returns nil after Shutdown, or the
// accept error otherwise.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errors.New("chat: server already shut down")
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		if s.limiter != nil {
			ip := remoteIP(conn)
			if !s.limiter.Allow(ip) {
				s.log.WithField("ip", ip).Warn("connection rejected by rate limiter")
				conn.Close()
				continue
			}
		}

		// Accept can return a connection concurrently with Shutdown. Gate
		// the worker start on closed under the mutex so a late arrival is
		// turned away instead of being serviced after Shutdown returned,
		// and so wg.Add never races wg.Wait.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the bound listener address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting, closes every live connection, and waits for all
// workers to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, sess := range s.registry.Snapshot() {
		sess.close()
	}
	s.wg.Wait()
	s.log.Info("server stopped")
}

// handleConn owns one connection for its whole lifetime: registration,
// the username handshake, the routed read loop, and cleanup. Every error
// path ends here; nothing propagates to other workers.
func (s *Server) handleConn(conn net.Conn) {
	sess := newSession(conn)
	log := s.log.WithFields(logrus.Fields{
		"session": sess.ID(),
		"remote":  sess.RemoteAddr(),
	})

	if err := s.registry.Register(sess); err != nil {
		// Random ids make this unreachable short of a broken RNG. Treated
		// as an invariant violation fatal to this connection only.
		log.WithError(err).Error("session registration failed")
		conn.Close()
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		// Shutdown may have snapshotted the registry before this session
		// was registered; tear it down here instead of relying on the
		// snapshot.
		s.registry.Remove(sess.ID())
		sess.close()
		return
	}
	log.Info("client connected")

	var pumpWG sync.WaitGroup
	pumpWG.Add(1)
	go func() {
		defer pumpWG.Done()
		sess.writePump(s.log)
	}()

	defer func() {
		username := sess.Username()
		identified := sess.Identified()
		if s.registry.Remove(sess.ID()) && identified {
			s.router.Broadcast("[SERVER] "+username+" has left the chat.", sess)
			log.WithField("user", username).Info("client disconnected")
		}
		sess.beginClose()
		pumpWG.Wait()
		conn.Close()
	}()

	dec := wire.NewDecoder(conn)

	// First frame is the username handshake; it is not routed.
	username, err := s.readFrame(conn, dec)
	if err != nil {
		s.logReadError(log, err)
		return
	}
	username = strings.TrimSpace(username)
	if username == "" {
		sess.Send("[SERVER] A username is required.\n")
		return
	}
	if err := s.registry.BindUsername(sess.ID(), username); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			sess.Send("[SERVER] Username already taken.\n")
			log.WithField("user", username).Warn("duplicate username rejected")
		} else {
			log.WithError(err).Error("username bind failed")
		}
		return
	}
	log.WithField("user", username).Info("user identified")
	s.router.Broadcast("[SERVER] "+username+" has joined the chat.", sess)

	for {
		payload, err := s.readFrame(conn, dec)
		if err != nil {
			s.logReadError(log, err)
			return
		}
		if payload == "" {
			// Empty frame means the peer is done.
			return
		}
		s.router.Route(sess, payload)
	}
}

// readFrame decodes the next frame, applying the idle deadline when one is
// configured.
func (s *Server) readFrame(conn net.Conn, dec *wire.Decoder) (string, error) {
	if s.idleTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	}
	return dec.Next()
}

func (s *Server) logReadError(log logrus.FieldLogger, err error) {
	var fe *wire.FrameError
	switch {
	case err == io.EOF:
		log.Info("connection closed by peer")
	case errors.As(err, &fe):
		log.WithError(fe).Warn("malformed frame, closing connection")
	default:
		log.WithError(err).Info("connection lost")
	}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
