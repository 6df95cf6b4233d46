package timer

import (
	"sync"
	"time"
)

// session is the mutable state of one running interval. Every field is guarded by mu; the
// three activities only touch it through the methods below.
type session struct {
	mu        sync.Mutex
	id        string
	kind      Kind
	remaining int
	paused    bool
	skipped   bool
	expired   bool
	sealed    bool

	// pauseChanged wakes the tick activity; it holds at most one pending signal.
	pauseChanged chan struct{}
}

func newSession(id string, kind Kind, seconds int) *session {
	return &session{
		id:           id,
		kind:         kind,
		remaining:    seconds,
		pauseChanged: make(chan struct{}, 1),
	}
}

// display returns the value to show and whether the countdown is visible right now.
func (s *session) display() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining, !s.paused && !s.skipped && !s.expired
}

// advance decrements remaining by one second if the session is neither paused nor skipped.
// Expiry is decided here under the same lock as the skip check, so a skip latched first
// always wins.
func (s *session) advance() (remaining int, advanced, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.skipped || s.expired || s.sealed {
		return s.remaining, false, false
	}
	s.remaining--
	if s.remaining <= 0 {
		s.remaining = 0
		s.expired = true
		s.signal()
		return 0, true, true
	}
	return s.remaining, true, false
}

// togglePause flips the pause flag. Toggles after the session has ended are dropped.
func (s *session) togglePause() (paused bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipped || s.expired || s.sealed {
		return s.paused, false
	}
	s.paused = !s.paused
	s.signal()
	return s.paused, true
}

// latchSkip sets the one-way skip flag. It reports false when the session already expired or
// was already skipped.
func (s *session) latchSkip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipped || s.expired || s.sealed {
		return false
	}
	s.skipped = true
	s.signal()
	return true
}

// tickState reports whether the tick should be playing and whether the tick activity should
// keep running at all.
func (s *session) tickState() (play bool, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active = s.remaining > 0 && !s.skipped && !s.expired && !s.sealed
	return active && !s.paused, active
}

// seal ends the session: later decrements, toggles and skips are dropped, so the outcome is
// the state at the moment the race was decided.
func (s *session) seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	s.signal()
}

func (s *session) outcome() (Outcome, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := time.Duration(s.remaining) * time.Second
	switch {
	case s.expired:
		return OutcomeExpired, remaining
	case s.skipped:
		return OutcomeSkipped, remaining
	case s.paused:
		return OutcomeAbandoned, remaining
	default:
		return OutcomeCancelled, remaining
	}
}

func (s *session) signal() {
	select {
	case s.pauseChanged <- struct{}{}:
	default:
	}
}
