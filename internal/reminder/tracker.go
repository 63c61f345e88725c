package reminder

import (
	"slices"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/clock"
)

// Entry describes an armed in-memory timer.
type Entry struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	JobID       string    `json:"job_id"`
	ReminderID  string    `json:"reminder_id"`
	GuildID     string    `json:"guild_id"`
	Service     string    `json:"service,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
}

type tracked struct {
	timer clock.Timer
	entry Entry
}

// Tracker owns the in-memory timers, at most one per partition key.
// It is a cache of pending rows and can always be rebuilt from storage.
type Tracker struct {
	clock   clock.Clock
	entries map[string]tracked
	mu      sync.Mutex
}

// NewTracker creates an empty tracker using c for timers.
func NewTracker(c clock.Clock) *Tracker {
	return &Tracker{clock: c, entries: make(map[string]tracked)}
}

// Schedule records entry under key and arms a timer that runs task after delay.
// A timer already armed for key is stopped and replaced. When the timer fires it
// removes its own entry first; if the entry was cancelled or replaced in the
// meantime, task is not run.
func (t *Tracker) Schedule(key string, entry Entry, delay time.Duration, task func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.entries[key]; ok {
		prev.timer.Stop()
	}

	jobID := entry.JobID
	timer := t.clock.AfterFunc(delay, func() {
		if t.release(key, jobID) {
			task()
		}
	})
	t.entries[key] = tracked{timer: timer, entry: entry}
}

func (t *Tracker) release(key, jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.entries[key]
	if !ok || cur.entry.JobID != jobID {
		return false
	}
	delete(t.entries, key)
	return true
}

// Cancel removes the entry for key and stops its timer.
// It returns false when nothing is tracked for key.
func (t *Tracker) Cancel(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	delete(t.entries, key)
	cur.timer.Stop()
	return cur.entry, true
}

// Entry returns the entry tracked for key.
func (t *Tracker) Entry(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.entries[key]
	return cur.entry, ok
}

// Keys returns all tracked partition keys, sorted.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of armed timers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StopAll stops every timer and clears the tracker.
func (t *Tracker) StopAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	for key, cur := range t.entries {
		cur.timer.Stop()
		delete(t.entries, key)
	}
	return n
}
