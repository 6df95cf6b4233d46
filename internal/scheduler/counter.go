package scheduler

import (
	"sync"

	"github.com/tomatoworks/pomo/internal/timer"
)

// DefaultLongBreakEvery is how many completed work intervals earn a long break.
const DefaultLongBreakEvery = 4

// Counter counts completed work intervals for the current process.
type Counter struct {
	mu        sync.Mutex
	completed int
	every     int
}

// NewCounter returns a zeroed counter granting a long break every n completions.
func NewCounter(every int) *Counter {
	if every <= 0 {
		every = DefaultLongBreakEvery
	}
	return &Counter{every: every}
}

// Record counts a work interval that ran out or was skipped. Intervals cut short by shutdown
// do not count. It reports whether the counter moved.
func (c *Counter) Record(outcome timer.Outcome) bool {
	if outcome != timer.OutcomeExpired && outcome != timer.OutcomeSkipped {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	return true
}

// Completed returns the number of counted work intervals.
func (c *Counter) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// NextBreak picks the break that follows the latest work interval.
func (c *Counter) NextBreak() timer.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed > 0 && c.completed%c.every == 0 {
		return timer.KindLongBreak
	}
	return timer.KindShortBreak
}
