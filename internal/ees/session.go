package ees

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Ticket marks one issued request for a display target.
type Ticket struct {
	Target string
	Seq    uint64
}

// Session is one table consumer. It remembers the window size of its first
// request and orders results per display target so that a slow, older
// response never replaces a newer one.
type Session struct {
	ID string

	mu         sync.Mutex
	windowSize int
	issued     map[string]uint64
	rendered   map[string]uint64
	lastSeen   time.Time
}

// ObserveWindow records the window size of a request. It returns false when
// the size differs from the first one seen in this session.
func (s *Session) ObserveWindow(size int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windowSize == 0 {
		s.windowSize = size
		return true
	}
	return s.windowSize == size
}

// WindowSize is the window size fixed by the session's first request.
func (s *Session) WindowSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowSize
}

// Begin issues a ticket for target.
func (s *Session) Begin(target string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[target]++
	return Ticket{Target: target, Seq: s.issued[target]}
}

// Commit reports whether the result for t may be displayed. A result is
// rejected once a newer ticket for the same target has been committed.
func (s *Session) Commit(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Seq <= s.rendered[t.Target] {
		return false
	}
	s.rendered[t.Target] = t.Seq
	return true
}

// SessionRegistry tracks live sessions and expires idle ones.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger
}

// NewSessionRegistry creates a registry. A nil clock uses the real clock.
func NewSessionRegistry(idleTTL time.Duration, clock clockwork.Clock, log zerolog.Logger) *SessionRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		clock:    clock,
		log:      log,
	}
}

// Resolve returns the session with id, creating a new one when id is empty
// or unknown.
func (r *SessionRegistry) Resolve(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if s, ok := r.sessions[id]; ok && id != "" {
		s.mu.Lock()
		s.lastSeen = now
		s.mu.Unlock()
		return s
	}

	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:       id,
		issued:   make(map[string]uint64),
		rendered: make(map[string]uint64),
		lastSeen: now,
	}
	r.sessions[id] = s
	r.log.Debug().Str("session_id", id).Msg("session started")
	return s
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the idle TTL and returns how
// many were removed.
func (r *SessionRegistry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	removed := 0
	for id, s := range r.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastSeen)
		s.mu.Unlock()
		if idle > r.idleTTL {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
