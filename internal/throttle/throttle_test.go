package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestTryAcquire_CapPerDay(t *testing.T) {
	th := New(3)
	day := Day{2026, time.March, 14}
	for i := 0; i < 3; i++ {
		assert.Assert(t, th.TryAcquire(day), "acquire %d should succeed", i+1)
	}
	assert.Assert(t, !th.TryAcquire(day), "fourth acquire on the same day should be denied")
	assert.Equal(t, th.Count(day), 3)

	// a new day starts from zero
	assert.Assert(t, th.TryAcquire(day.AddDays(1)), "first acquire on the next day should succeed")
}

func TestTryAcquire_ConcurrentNeverExceedsCap(t *testing.T) {
	th := New(3)
	day := Day{2026, time.January, 1}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.TryAcquire(day) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, granted.Load(), int32(3))
	assert.Equal(t, th.Count(day), 3)
}

func TestMidnightRollover_YesterdayKeptUntilPrune(t *testing.T) {
	th := New(3)
	d1 := Day{2026, time.February, 28}
	d2 := d1.AddDays(1)
	d3 := d2.AddDays(1)
	assert.Equal(t, d2, Day{2026, time.March, 1})

	th.TryAcquire(d1)
	th.TryAcquire(d1)

	// after crossing into d2, yesterday's count is still readable
	assert.Equal(t, th.Count(d1), 2)
	th.TryAcquire(d2)
	assert.Equal(t, th.Count(d1), 2)
	assert.Equal(t, th.Days(), 2)

	// two days later d1 is pruned by the next acquire
	th.TryAcquire(d3)
	assert.Equal(t, th.Count(d1), 0)
	assert.Equal(t, th.Days(), 2)
}

func TestPrune_KeepsReferenceAndPreviousDay(t *testing.T) {
	th := New(5)
	ref := Day{2026, time.January, 1}
	th.TryAcquire(ref.AddDays(-2))
	th.TryAcquire(ref.AddDays(-1))
	assert.Equal(t, th.Days(), 2)

	th.Prune(ref)
	assert.Equal(t, th.Count(ref.AddDays(-2)), 0)
	assert.Equal(t, th.Count(ref.AddDays(-1)), 1)
	assert.Equal(t, th.Days(), 1)
	assert.Equal(t, ref.AddDays(-1).String(), "2025-12-31")
}

func TestZeroCapDeniesEverything(t *testing.T) {
	th := New(0)
	assert.Assert(t, !th.TryAcquire(DayOf(time.Now())), "cap 0 should deny")
}
