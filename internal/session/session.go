// Package session owns the per-scope session identifier that correlates
// tracked events from one browsing session.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StorageKey is the key the identifier is stored under in its scope.
const StorageKey = "analytics_session_id"

const (
	suffixLen      = 9
	suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// randomOffsets are the bytes of a v4 UUID that carry no version or variant
// bits.
var randomOffsets = [suffixLen]int{0, 1, 2, 3, 4, 5, 9, 10, 11}

// Session hands out the identifier for one storage scope, generating it
// lazily on first use.
type Session struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source used for new identifiers.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session context over store. A nil store behaves like an
// unavailable scope.
func New(store Store, opts ...Option) *Session {
	if store == nil {
		store = UnavailableStore{}
	}
	s := &Session{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the identifier for the current scope, creating and storing one
// if the scope has none. It returns "" when the scope is unavailable.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.store.Get(StorageKey)
	if err != nil {
		return ""
	}
	if ok && id != "" {
		return id
	}

	id = newID(s.now())
	if err := s.store.Set(StorageKey, id); err != nil {
		return ""
	}
	return id
}

// Reset clears the scope so the next ID call starts a new session.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clear()
}

// newID formats "<unix millis>-<9 lowercase alphanumerics>".
func newID(now time.Time) string {
	u := uuid.New()
	var suffix [suffixLen]byte
	for i, off := range randomOffsets {
		suffix[i] = suffixAlphabet[int(u[off])%len(suffixAlphabet)]
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix[:])
}
