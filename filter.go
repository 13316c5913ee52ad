package ttlfilter

import (
	"log/slog"
	"time"
)

// Filter is a thread-safe approximate membership set whose items expire.
//
// Items are written to one of N slots, each an independent Membership. Every
// call to Expire starts a new tick: the write cursor moves to the next slot
// and the oldest slot is cleared. Lookups and deletes scan every slot, so an
// item stays visible until its slot is cleared.
type Filter struct {
	ring   *ring
	rot    *rotation
	logger *slog.Logger
}

// New creates a Filter. It returns an error wrapping ErrInvalidConfig if the
// options are inconsistent, or the slot factory's error if a slot cannot be
// built.
func New(opts ...Option) (*Filter, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	n, err := SlotCount(cfg.ttl, cfg.period)
	if err != nil {
		return nil, err
	}

	slots, err := newRing(n, cfg.capacity, cfg.slotConfig(), cfg.factory)
	if err != nil {
		return nil, err
	}

	f := &Filter{
		ring:   slots,
		rot:    newRotation(cfg.ttl, cfg.period),
		logger: cfg.logger,
	}

	if f.logger != nil {
		f.logger.Debug("created expiring filter",
			"ttl", cfg.ttl,
			"expiration_period", cfg.period,
			"slots", n,
			"slot_capacity", slots.slotCap,
			"fingerprint_bits", cfg.fingerprintBits,
		)
	}
	return f, nil
}

// Insert adds data to the current write slot. It returns ErrCapacityExceeded
// if that slot is full; other slots are never used to absorb the overflow.
func (f *Filter) Insert(data []byte) error {
	return f.insertHash(hashData(data))
}

// InsertString adds a string to the current write slot without allocating.
func (f *Filter) InsertString(s string) error {
	return f.insertHash(hashString(s))
}

func (f *Filter) insertHash(h uint64) error {
	tick := f.rot.current()
	if err := f.ring.at(tick).InsertHash(h); err != nil {
		return err
	}

	// If Expire ran while the insert was in flight, the slot written above
	// may be the one it cleared. Write to the new slot as well.
	if now := f.rot.current(); now != tick {
		return f.ring.at(now).InsertHash(h)
	}
	return nil
}

// InsertUnique adds data unless it is already present, and reports whether it
// was added. The check and the insert are not a single atomic operation; two
// concurrent calls with the same item may both insert it.
func (f *Filter) InsertUnique(data []byte) (bool, error) {
	return f.insertUniqueHash(hashData(data))
}

// InsertUniqueString is InsertUnique for strings.
func (f *Filter) InsertUniqueString(s string) (bool, error) {
	return f.insertUniqueHash(hashString(s))
}

func (f *Filter) insertUniqueHash(h uint64) (bool, error) {
	if f.containsHash(h) {
		return false, nil
	}
	if err := f.insertHash(h); err != nil {
		return false, err
	}
	return true, nil
}

// Contains reports whether data might have been inserted within the TTL.
// False positives are possible, false negatives are not.
func (f *Filter) Contains(data []byte) bool {
	return f.containsHash(hashData(data))
}

// ContainsString reports whether a string might be present without
// allocating.
func (f *Filter) ContainsString(s string) bool {
	return f.containsHash(hashString(s))
}

func (f *Filter) containsHash(h uint64) bool {
	found := false
	f.ring.newestFirst(f.rot.current(), func(m Membership) bool {
		found = m.ContainsHash(h)
		return !found
	})
	return found
}

// Count returns the number of times data is stored across all slots. Slots
// that cannot count occurrences contribute one if they contain it.
func (f *Filter) Count(data []byte) uint64 {
	return f.countHash(hashData(data))
}

// CountString is Count for strings.
func (f *Filter) CountString(s string) uint64 {
	return f.countHash(hashString(s))
}

func (f *Filter) countHash(h uint64) uint64 {
	var n uint64
	for _, m := range f.ring.slots {
		if c, ok := m.(occurrenceCounter); ok {
			n += c.CountHash(h)
		} else if m.ContainsHash(h) {
			n++
		}
	}
	return n
}

// Delete removes data from every slot that contains it and reports whether
// anything was removed.
//
// Each slot is checked with a lookup before deleting, because deleting an
// absent fingerprint is unsafe for some Membership implementations. A false
// positive lookup means an unrelated item sharing the fingerprint can be
// removed instead; that ghost collision lasts until the slot is cleared.
// Slots are processed one at a time, so concurrent readers may see the item
// in some slots after it is gone from others. The first slot error aborts
// the scan without undoing earlier removals.
func (f *Filter) Delete(data []byte) (bool, error) {
	return f.deleteHash(hashData(data))
}

// DeleteString is Delete for strings.
func (f *Filter) DeleteString(s string) (bool, error) {
	return f.deleteHash(hashString(s))
}

func (f *Filter) deleteHash(h uint64) (bool, error) {
	var (
		removed bool
		err     error
	)
	f.ring.newestFirst(f.rot.current(), func(m Membership) bool {
		if !m.ContainsHash(h) {
			return true
		}
		var ok bool
		ok, err = m.DeleteHash(h)
		removed = removed || ok
		return err == nil
	})
	return removed, err
}

// Expire starts a new tick: the write cursor moves to the next slot and the
// oldest slot is cleared. It returns the number of items removed.
//
// Expire must be called at least once per expiration period for items to
// live at least the configured TTL. Every call advances exactly one slot,
// regardless of elapsed time or of other concurrent Expire calls, so
// redundant calls expire items early.
func (f *Filter) Expire() uint64 {
	tick, cleared, removed := f.rot.advance(f.ring)

	if f.logger != nil {
		f.logger.Debug("rotated expiring filter",
			"tick", tick,
			"write_slot", f.ring.index(tick),
			"cleared_slot", cleared,
			"removed", removed,
		)
	}
	return removed
}

// Clear removes every item from every slot. The write cursor is unchanged.
func (f *Filter) Clear() {
	f.rot.mu.Lock()
	defer f.rot.mu.Unlock()

	for _, m := range f.ring.slots {
		m.Clear()
	}
}

// Len returns the approximate number of items across all slots.
func (f *Filter) Len() uint64 {
	var n uint64
	for _, m := range f.ring.slots {
		n += m.Len()
	}
	return n
}

// IsEmpty reports whether no slot holds any item.
func (f *Filter) IsEmpty() bool {
	return f.Len() == 0
}

// Cap returns the total provisioned capacity across all slots. It is never
// below the requested capacity.
func (f *Filter) Cap() uint64 {
	return f.ring.slotCap * f.ring.numSlots
}

// SlotCapacity returns the capacity of each slot.
func (f *Filter) SlotCapacity() uint64 {
	return f.ring.slotCap
}

// NumSlots returns the number of slots.
func (f *Filter) NumSlots() int {
	return int(f.ring.numSlots)
}

// TTL returns the configured time-to-live.
func (f *Filter) TTL() time.Duration {
	return f.rot.ttl
}

// ExpirationPeriod returns the configured maximum interval between Expire
// calls.
func (f *Filter) ExpirationPeriod() time.Duration {
	return f.rot.period
}

// Rotations returns the number of Expire calls so far.
func (f *Filter) Rotations() uint64 {
	return f.rot.current()
}

// ExpirationWindow returns the shortest and longest time an item stays in the
// filter when Expire runs exactly once per expiration period. Where an item
// falls in that window depends on how far into its slot's tick it was
// inserted.
func (f *Filter) ExpirationWindow() (shortest, longest time.Duration) {
	return f.rot.window(f.ring.numSlots)
}

// EstimatedFalsePositiveRate estimates the current false positive rate of a
// lookup across all slots. Slots that cannot estimate their own rate are
// skipped.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	miss := 1.0
	for _, m := range f.ring.slots {
		if e, ok := m.(interface{ EstimatedFalsePositiveRate() float64 }); ok {
			miss *= 1 - e.EstimatedFalsePositiveRate()
		}
	}
	return 1 - miss
}
