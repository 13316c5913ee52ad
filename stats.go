package ttlfilter

// SlotStats is a point-in-time view of one slot.
type SlotStats struct {
	// Index is the slot's position in the ring.
	Index int
	// Age is the number of ticks since the slot was the write slot. The write
	// slot has age 0 and the oldest slot has age N-1.
	Age uint64
	// Len is the approximate number of items in the slot.
	Len uint64
	// Cap is the slot's capacity.
	Cap uint64
	// Writing reports whether the slot is the current write slot.
	Writing bool
}

// Stats returns one SlotStats per slot, in ring order. The values are read
// without stopping concurrent callers, so they may not describe a single
// instant.
func (f *Filter) Stats() []SlotStats {
	tick := f.rot.current()
	stats := make([]SlotStats, len(f.ring.slots))
	for i, m := range f.ring.slots {
		age := f.ring.age(i, tick)
		stats[i] = SlotStats{
			Index:   i,
			Age:     age,
			Len:     m.Len(),
			Cap:     m.Cap(),
			Writing: age == 0,
		}
	}
	return stats
}
