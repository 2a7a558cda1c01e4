// Package throttle caps how many alerts may be sent per calendar day.
package throttle

import "sync"

const DefaultCap = 3

// Throttle counts permits per day. State lives in memory only and is lost on
// restart.
type Throttle struct {
	mu     sync.Mutex
	cap    int
	counts map[Day]int
}

func New(cap int) *Throttle {
	if cap < 0 {
		cap = 0
	}
	return &Throttle{cap: cap, counts: make(map[Day]int)}
}

func (t *Throttle) Cap() int { return t.cap }

// TryAcquire prunes stale days relative to day and then, in the same critical
// section, grants a permit if fewer than Cap have been granted for day.
func (t *Throttle) TryAcquire(day Day) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(day)
	if t.counts[day] >= t.cap {
		return false
	}
	t.counts[day]++
	return true
}

// Prune drops every day strictly before the day preceding reference.
func (t *Throttle) Prune(reference Day) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(reference)
}

func (t *Throttle) pruneLocked(reference Day) {
	cutoff := reference.AddDays(-1)
	for d := range t.counts {
		if d.Before(cutoff) {
			delete(t.counts, d)
		}
	}
}

func (t *Throttle) Count(day Day) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[day]
}

// Days returns how many days currently hold a counter.
func (t *Throttle) Days() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}
