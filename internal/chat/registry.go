package chat

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateConnection means a session id was registered twice. Ids
	// are random per accepted connection, so this is an internal invariant
	// violation, not a user error.
	ErrDuplicateConnection = errors.New("chat: connection already registered")

	// ErrDuplicateUsername means the requested username is already bound to
	// a live session.
	ErrDuplicateUsername = errors.New("chat: username already taken")

	// ErrUnknownSession means the session id is not in the registry.
	ErrUnknownSession = errors.New("chat: unknown session")
)

// Registry is the authoritative set of live sessions, keyed by session id
// with a derived index by username. Iteration always happens over a
// Snapshot, never over the live maps, so broadcasts cannot race with
// register/remove.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byName map[string]*Session
	order  []*Session // join order
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byName: make(map[string]*Session),
	}
}

// Register inserts a freshly accepted session.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID()]; ok {
		return ErrDuplicateConnection
	}
	r.byID[s.ID()] = s
	r.order = append(r.order, s)
	return nil
}

// BindUsername binds a username to a registered session and indexes it for
// private-message lookup. A name already held by another live session is
// rejected; two sessions claiming the same identity would make private
// delivery ambiguous.
func (r *Registry) BindUsername(id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return ErrUnknownSession
	}
	if owner, taken := r.byName[username]; taken && owner.ID() != id {
		return ErrDuplicateUsername
	}
	s.setUsername(username)
	r.byName[username] = s
	return nil
}

// Remove deletes a session from both indexes. Removing an id that is absent
// is a no-op; the returned bool reports whether anything was removed, so
// callers can avoid emitting a second leave notice.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if name := s.Username(); name != "" && r.byName[name] == s {
		delete(r.byName, name)
	}
	for i, o := range r.order {
		if o == s {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns an immutable copy of the live sessions in join order.
// The lock is held only for the copy; delivery to the returned sessions
// happens after it is released.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.order))
	copy(out, r.order)
	return out
}

// FindByUsername returns the session bound to username, if any.
func (r *Registry) FindByUsername(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[username]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
