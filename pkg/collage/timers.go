package collage

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// timerEntry pairs a pending timer with the generation it was armed in.
type timerEntry struct {
	timer      clockwork.Timer
	generation uint64
}

// Timers schedules one pending callback per user. Rescheduling replaces the
// pending timer; a replaced or cancelled timer never runs its callback, even
// when the underlying timer already fired.
type Timers struct {
	clock      clockwork.Clock
	mu         sync.Mutex
	generation uint64
	entries    map[int64]*timerEntry
}

// NewTimers creates a timer table on the given clock.
func NewTimers(clock clockwork.Clock) *Timers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timers{
		clock:   clock,
		entries: make(map[int64]*timerEntry),
	}
}

// Reset schedules fn to run after d, replacing any pending timer for the
// same user.
func (t *Timers) Reset(userID int64, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[userID]; ok {
		entry.timer.Stop()
	}

	t.generation++
	gen := t.generation

	entry := &timerEntry{generation: gen}
	entry.timer = t.clock.AfterFunc(d, func() {
		// The fire is only valid while this entry is still current. A
		// Stop can lose the race with the runtime, so the table is the
		// source of truth, not the timer.
		t.mu.Lock()
		current, ok := t.entries[userID]
		if !ok || current.generation != gen {
			t.mu.Unlock()
			return
		}
		delete(t.entries, userID)
		t.mu.Unlock()

		fn()
	})
	t.entries[userID] = entry
}

// Cancel stops the pending timer for a user. It reports whether a timer was
// pending.
func (t *Timers) Cancel(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[userID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, userID)
	return true
}

// CancelAll stops every pending timer.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, userID)
	}
}

// Len returns the number of pending timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
