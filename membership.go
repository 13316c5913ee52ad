package ttlfilter

// Membership is a capacity-bounded approximate set addressed by a
// pre-computed 64-bit hash. Each slot of a Filter is one Membership.
//
// Implementations must be safe for concurrent InsertHash, ContainsHash and
// DeleteHash calls. Clear may run concurrently with lookups.
type Membership interface {
	// InsertHash adds h. It returns ErrCapacityExceeded (possibly wrapped)
	// when the set is full.
	InsertHash(h uint64) error
	// ContainsHash reports whether h might be present. False positives are
	// possible, false negatives are not.
	ContainsHash(h uint64) bool
	// DeleteHash removes one occurrence of h and reports whether anything was
	// removed. Callers should only delete what ContainsHash reports present.
	DeleteHash(h uint64) (bool, error)
	// Clear removes everything.
	Clear()
	// Len returns the approximate number of stored items.
	Len() uint64
	// Cap returns the maximum number of items.
	Cap() uint64
}

// occurrenceCounter is implemented by memberships that can report how many
// times a hash is stored.
type occurrenceCounter interface {
	CountHash(h uint64) uint64
}

// SlotConfig describes one slot of a Filter.
type SlotConfig struct {
	Capacity        uint64
	FingerprintBits uint
	BucketSize      uint
	MaxEvictions    uint
}

// SlotFactory builds the Membership backing one slot.
type SlotFactory func(cfg SlotConfig) (Membership, error)

// AtomicCuckooFactory builds lock-free AtomicCuckoo slots. It is the default
// SlotFactory.
func AtomicCuckooFactory(cfg SlotConfig) (Membership, error) {
	return NewAtomicCuckooWithParams(cfg.Capacity, CuckooParams{
		FingerprintBits: cfg.FingerprintBits,
		BucketSize:      cfg.BucketSize,
		MaxEvictions:    cfg.MaxEvictions,
	})
}

// LockedCuckooFactory builds LockedCuckoo slots. Only cfg.Capacity is used.
func LockedCuckooFactory(cfg SlotConfig) (Membership, error) {
	return NewLockedCuckoo(cfg.Capacity), nil
}
