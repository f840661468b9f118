package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned by Get for ids that are not open.
var ErrUnknownSession = errors.New("unknown session")

// Registry defaults.
const (
	DefaultMaxSessions = 1024
	DefaultIdleTimeout = 30 * time.Minute
)

type entry struct {
	s        *Session
	lastSeen time.Time
}

// Registry tracks open sessions by id. Sessions idle longer than the idle
// timeout are closed on the next lookup or insert; when the registry is
// full, the least recently used session is closed to make room.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	opts        []Option
	maxSessions int
	idleTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSessionOptions applies opts to every session the registry opens.
func WithSessionOptions(opts ...Option) RegistryOption {
	return func(r *Registry) { r.opts = append(r.opts, opts...) }
}

// WithMaxSessions caps the number of open sessions. n <= 0 removes the cap.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) { r.maxSessions = n }
}

// WithIdleTimeout closes sessions unused for d. d <= 0 disables expiry.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithRegistryClock replaces the clock used for idle tracking.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions:    make(map[string]*entry),
		maxSessions: DefaultMaxSessions,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		logger:      logger.With("component", "session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open starts a session with a fresh random id.
func (r *Registry) Open() *Session {
	s := New(uuid.NewString(), r.opts...)
	r.mu.Lock()
	dropped := r.insertLocked(s)
	r.mu.Unlock()
	r.closeDropped(dropped)
	r.logger.Debug("session opened", "session", s.ID())
	return s
}

// Get returns the open session with the given id and marks it used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	var expired *Session
	if ok && r.idleLocked(e, r.now()) {
		delete(r.sessions, id)
		expired, ok = e.s, false
	}
	if ok {
		e.lastSeen = r.now()
	}
	r.mu.Unlock()
	if expired != nil {
		r.closeDropped([]*Session{expired})
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	return e.s, nil
}

// Attach returns the session for id, opening one under that id if none
// exists or the previous one expired. id must be a UUID.
func (r *Registry) Attach(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	r.mu.Lock()
	now := r.now()
	if e, ok := r.sessions[id]; ok && !r.idleLocked(e, now) {
		e.lastSeen = now
		r.mu.Unlock()
		return e.s, nil
	}
	s := New(id, r.opts...)
	dropped := r.insertLocked(s)
	r.mu.Unlock()
	r.closeDropped(dropped)
	r.logger.Debug("session attached", "session", id)
	return s, nil
}

// Close ends the session and forgets it. It reports whether id was open.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		e.s.Close()
		r.logger.Debug("session closed", "session", id)
	}
	return ok
}

// CloseAll ends every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range sessions {
		e.s.Close()
	}
}

// Len returns the number of sessions held, including idle ones not yet
// swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) idleLocked(e *entry, now time.Time) bool {
	return r.idleTimeout > 0 && now.Sub(e.lastSeen) > r.idleTimeout
}

// insertLocked stores s, replacing any session under the same id, after
// sweeping idle sessions and evicting down to the cap. It returns the
// sessions removed, which the caller closes outside the lock.
func (r *Registry) insertLocked(s *Session) []*Session {
	now := r.now()
	var dropped []*Session
	if old, ok := r.sessions[s.ID()]; ok {
		delete(r.sessions, s.ID())
		dropped = append(dropped, old.s)
	}
	for id, e := range r.sessions {
		if r.idleLocked(e, now) {
			delete(r.sessions, id)
			dropped = append(dropped, e.s)
		}
	}
	for r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		var oldestID string
		var oldest *entry
		for id, e := range r.sessions {
			if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
				oldestID, oldest = id, e
			}
		}
		delete(r.sessions, oldestID)
		dropped = append(dropped, oldest.s)
	}
	r.sessions[s.ID()] = &entry{s: s, lastSeen: now}
	return dropped
}

func (r *Registry) closeDropped(dropped []*Session) {
	for _, s := range dropped {
		s.Close()
		r.logger.Debug("session expired", "session", s.ID())
	}
}
