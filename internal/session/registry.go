// Package session keeps track of every connected client and the last position
// it reported. The Registry is the single owner of Session values; the hub
// reads it to pick fan-out targets.
package session

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnknownSession is returned when an operation names an id that is not
	// registered, typically a late message racing the disconnect.
	ErrUnknownSession = errors.New("unknown session")

	// ErrDuplicateSession is returned when Register is called for an id that is
	// still live. It means the transport reused an identifier.
	ErrDuplicateSession = errors.New("session already registered")
)

// Sender is the outbound side of a session's transport channel.
type Sender interface {
	Send(msg []byte) error
}

// Position is a latitude/longitude pair in decimal degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Session is the server-side record of one connected client.
type Session struct {
	ID string

	out      Sender
	position *Position
}

// Send delivers msg on the session's outbound channel.
func (s *Session) Send(msg []byte) error {
	if s.out == nil {
		return fmt.Errorf("session %s: no outbound channel", s.ID)
	}
	return s.out.Send(msg)
}

// Owns reports whether out is the outbound channel this session was registered with.
func (s *Session) Owns(out Sender) bool {
	return s.out == out
}

// Close closes the outbound channel when it supports closing.
func (s *Session) Close() error {
	if c, ok := s.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Observer receives registry size changes. It is implemented by the metrics
// package; a nil Observer is allowed.
type Observer interface {
	SessionAdded()
	SessionRemoved()
}

// Registry holds all currently connected sessions keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	observer Observer
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(observer Observer) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		observer: observer,
	}
}

// Register creates a session for id with no position set.
func (r *Registry) Register(id string, out Sender) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("register %s: %w", id, ErrDuplicateSession)
	}
	s := &Session{ID: id, out: out}
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SessionAdded()
	}
	log.WithField("session", id).Debugf("session registered, %d live", count)
	return s, nil
}

// Unregister removes the session for id. It reports whether a session was
// actually removed; calling it for an absent id is a no-op.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !exists {
		log.WithField("session", id).Debug("unregister of absent session ignored")
		return false
	}

	if r.observer != nil {
		r.observer.SessionRemoved()
	}
	log.WithField("session", id).Debugf("session unregistered, %d live", count)
	return true
}

// SetPosition records the latest position reported by id.
func (r *Registry) SetPosition(id string, latitude, longitude float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("set position for %s: %w", id, ErrUnknownSession)
	}
	s.position = &Position{Latitude: latitude, Longitude: longitude}
	return nil
}

// Position returns the last position reported by id, if any.
func (r *Registry) Position(id string) (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s.position == nil {
		return Position{}, false
	}
	return *s.position, true
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All yields every session registered when All was called.
func (r *Registry) All() iter.Seq[*Session] {
	return r.AllExcept("")
}

// AllExcept yields every session registered when AllExcept was called,
// skipping id. The snapshot is taken eagerly so callers can send while
// iterating without holding the registry lock.
func (r *Registry) AllExcept(id string) iter.Seq[*Session] {
	snapshot := r.snapshot(id)
	return func(yield func(*Session) bool) {
		for _, s := range snapshot {
			if !yield(s) {
				return
			}
		}
	}
}

// Positions returns the known position of every session that has reported one.
func (r *Registry) Positions() map[string]Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	positions := make(map[string]Position, len(r.sessions))
	for id, s := range r.sessions {
		if s.position != nil {
			positions[id] = *s.position
		}
	}
	return positions
}

func (r *Registry) snapshot(exclude string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if exclude != "" && id == exclude {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions
}
