package chat

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdolezal/chatwire/internal/wire"
)

// sendBufferSize is the number of frames that can be queued per session.
const sendBufferSize = 16

// writeTimeout is the max time to wait for a single frame write to complete.
const writeTimeout = 5 * time.Second

// State describes where a session is in its lifecycle. Transitions are
// one-way: Connected -> Identified -> Closed, and Closed is terminal.
type State int32

const (
	// StateConnected means the socket is open but no username is bound yet.
	StateConnected State = iota
	// StateIdentified means the username handshake completed.
	StateIdentified
	// StateClosed means the connection is gone; no further reads or writes.
	StateClosed
)

// Session holds the server-side state for one live connection. The
// connection is owned exclusively by the session: all writes go through the
// send channel and its write pump, all reads happen in the connection worker.
type Session struct {
	id       string
	conn     net.Conn
	joinedAt time.Time

	state atomic.Int32

	mu       sync.Mutex
	username string

	send      chan string
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// newSession wraps an accepted connection. The write pump is started by the
// server worker; tests can construct sessions without one and read the send
// channel directly.
func newSession(conn net.Conn) *Session {
	return &Session{
		id:       generateSessionID(),
		conn:     conn,
		joinedAt: time.Now(),
		send:     make(chan string, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// ID returns the opaque session handle.
func (s *Session) ID() string { return s.id }

// JoinedAt returns the time the connection was accepted.
func (s *Session) JoinedAt() time.Time { return s.joinedAt }

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Username returns the bound username, or "" while still in StateConnected.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) setUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
	s.state.CompareAndSwap(int32(StateConnected), int32(StateIdentified))
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Identified reports whether the username handshake completed.
func (s *Session) Identified() bool { return s.State() == StateIdentified }

// Send queues one payload for delivery. It never blocks: when the session is
// closed or its buffer is full (slow consumer) the frame is dropped and Send
// returns false.
func (s *Session) Send(payload string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	case <-s.done:
		return false
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of frames discarded because the send buffer
// was full.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// beginClose marks the session terminal: new Sends are refused and the
// write pump flushes what is already queued, then stops. The connection
// itself stays open so the pump can flush; the owning worker closes it.
func (s *Session) beginClose() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// close tears the session down immediately, closing the connection to
// unblock a worker suspended on a read. Safe to call more than once.
func (s *Session) close() {
	s.beginClose()
	if s.conn != nil {
		s.conn.Close()
	}
}

// writePump drains the send channel, framing each payload onto the
// connection. After beginClose it flushes frames already queued and exits.
// A failed write tears the session down so the read side unblocks; anything
// still queued is discarded, never replayed.
func (s *Session) writePump(log logrus.FieldLogger) {
	for {
		select {
		case payload := <-s.send:
			if !s.writeFrame(payload, log) {
				return
			}
		case <-s.done:
			for {
				select {
				case payload := <-s.send:
					if !s.writeFrame(payload, log) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writeFrame(payload string, log logrus.FieldLogger) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.Write(s.conn, payload); err != nil {
		log.WithFields(logrus.Fields{
			"session": s.id,
			"user":    s.Username(),
		}).WithError(err).Warn("write failed, closing session")
		s.close()
		return false
	}
	return true
}

func generateSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
