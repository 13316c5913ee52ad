package ttlfilter

import (
	"sync"
	"sync/atomic"
	"time"
)

// rotation owns the write cursor. The cursor is the tick counter, the number
// of Expire calls so far; the write slot is tick mod N.
//
// The slot after the write slot is kept empty. Each tick moves the cursor
// onto it and then clears the slot after that, which is the oldest one and
// no longer written. An item inserted during tick t is therefore removed by
// the Expire that starts tick t+N-1.
type rotation struct {
	ttl    time.Duration
	period time.Duration
	tick   atomic.Uint64
	mu     sync.Mutex // serializes Expire; the data path never takes it
}

func newRotation(ttl, period time.Duration) *rotation {
	return &rotation{ttl: ttl, period: period}
}

// current returns the current tick.
func (r *rotation) current() uint64 {
	return r.tick.Load()
}

// advance moves the cursor one slot forward and clears the oldest slot. It
// returns the new tick, the index of the cleared slot and the number of items
// it held.
func (r *rotation) advance(slots *ring) (tick, cleared, removed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tick = r.tick.Add(1)
	cleared = slots.index(tick + 1)

	oldest := slots.slots[cleared]
	removed = oldest.Len()
	oldest.Clear()
	return tick, cleared, removed
}

// window returns the shortest and longest lifetime of an item, assuming
// Expire runs exactly once per period.
func (r *rotation) window(numSlots uint64) (shortest, longest time.Duration) {
	return time.Duration(numSlots-2) * r.period, time.Duration(numSlots-1) * r.period
}
