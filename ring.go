package ttlfilter

import "fmt"

// ring is the fixed circular sequence of slots. It owns the capacity split
// and index arithmetic; the rotation decides which slot is written and the
// Filter scans all of them.
type ring struct {
	slots    []Membership
	slotCap  uint64
	numSlots uint64
}

// newRing builds n slots sharing capacity evenly.
func newRing(n int, capacity uint64, cfg SlotConfig, factory SlotFactory) (*ring, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 slots (got %d)", ErrInvalidConfig, n)
	}

	cfg.Capacity = SlotCapacity(capacity, n)

	slots := make([]Membership, n)
	for i := range slots {
		m, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating slot %d: %w", i, err)
		}
		slots[i] = m
	}

	return &ring{
		slots:    slots,
		slotCap:  cfg.Capacity,
		numSlots: uint64(n),
	}, nil
}

// index maps a tick to the slot written during it.
func (r *ring) index(tick uint64) uint64 {
	return tick % r.numSlots
}

// at returns the slot written during tick.
func (r *ring) at(tick uint64) Membership {
	return r.slots[r.index(tick)]
}

// age returns how many ticks ago slot i was the write slot, given the
// current tick.
func (r *ring) age(i int, tick uint64) uint64 {
	return (r.index(tick) + r.numSlots - uint64(i)) % r.numSlots
}

// newestFirst calls fn for every slot starting at the write slot of tick and
// walking back in time. It stops early if fn returns false.
func (r *ring) newestFirst(tick uint64, fn func(Membership) bool) {
	start := r.index(tick)
	for i := range r.numSlots {
		idx := (start + r.numSlots - i) % r.numSlots
		if !fn(r.slots[idx]) {
			return
		}
	}
}
