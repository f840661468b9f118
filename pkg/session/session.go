// Package session holds at most one signing identity per connected
// session. The identity is created on the first signing operation, reused
// for the rest of the session and dropped when the session closes. Private
// keys never leave the session.
package session

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/crypto"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrRateLimited is returned when a session signs faster than allowed.
	ErrRateLimited = errors.New("session signing rate exceeded")
)

// Option configures a Session.
type Option func(*Session)

// WithGenerator replaces identity generation.
func WithGenerator(gen func() (*crypto.Identity, error)) Option {
	return func(s *Session) { s.generate = gen }
}

// WithRateLimit bounds signing operations to rps per second with the given
// burst. A non-positive rps disables the limit; a burst below 1 is raised
// to 1 so the limit never blocks every call.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Session) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// Session owns one identity slot. It is safe for concurrent use; the
// check-then-create of the identity happens under one lock.
type Session struct {
	id       string
	mu       sync.Mutex
	identity *crypto.Identity
	closed   bool
	generate func() (*crypto.Identity, error)
	limiter  *rate.Limiter
}

// New creates a session with the given id.
func New(id string, opts ...Option) *Session {
	s := &Session{id: id, generate: crypto.GenerateIdentity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// identityLocked returns the session identity, creating it if absent.
func (s *Session) identityLocked() (*crypto.Identity, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.identity == nil {
		id, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("session %s: generate identity: %w", s.id, err)
		}
		s.identity = id
	}
	return s.identity, nil
}

// DID returns the session's DID, creating the identity if needed.
func (s *Session) DID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.identityLocked()
	if err != nil {
		return "", err
	}
	return id.DID(), nil
}

// HasIdentity reports whether an identity has been created.
func (s *Session) HasIdentity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity != nil
}

// SignExit signs m with the session identity.
func (s *Session) SignExit(m *contracts.ExitMarker) error {
	return s.withIdentity(func(id *crypto.Identity) error {
		return crypto.SignExit(id, m)
	})
}

// SignArrival signs a with the session identity.
func (s *Session) SignArrival(a *contracts.ArrivalMarker) error {
	return s.withIdentity(func(id *crypto.Identity) error {
		return crypto.SignArrival(id, a)
	})
}

func (s *Session) withIdentity(fn func(*crypto.Identity) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return ErrRateLimited
	}
	id, err := s.identityLocked()
	if err != nil {
		return err
	}
	return fn(id)
}

// Close drops the identity. Further signing fails with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.closed = true
}
