// Package auth exposes the authentication session signal the sync
// engine consumes. Identity itself is delegated to an external
// provider; all linkstash needs is the current user id and a way to
// hear about sign-in and sign-out.
package auth

import (
	"sync"
)

// Session reports the currently authenticated user.
//
// UserID returns "" while signed out. Subscribe registers a callback
// invoked on every session change (sign-in delivers the new user id,
// sign-out delivers ""); the returned function unsubscribes.
type Session interface {
	UserID() string
	Subscribe(fn func(userID string)) (unsubscribe func())
}

// MemorySession is a Session fed by explicit SignIn/SignOut calls.
// The CLI seeds it from configuration; tests drive it directly.
type MemorySession struct {
	mu     sync.Mutex
	userID string
	subs   map[int]func(string)
	nextID int
}

var _ Session = (*MemorySession)(nil)

// NewMemorySession creates a session, optionally pre-signed-in.
func NewMemorySession(userID string) *MemorySession {
	return &MemorySession{
		userID: userID,
		subs:   make(map[int]func(string)),
	}
}

// UserID implements Session.
func (s *MemorySession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SignIn records the authenticated user and notifies subscribers.
func (s *MemorySession) SignIn(userID string) {
	s.set(userID)
}

// SignOut clears the session and notifies subscribers.
func (s *MemorySession) SignOut() {
	s.set("")
}

func (s *MemorySession) set(userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may call back
	// into the session.
	for _, fn := range fns {
		fn(userID)
	}
}

// Subscribe implements Session.
func (s *MemorySession) Subscribe(fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
