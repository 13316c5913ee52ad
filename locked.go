package ttlfilter

import (
	"encoding/binary"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// LockedCuckoo adapts github.com/seiflotfy/cuckoofilter to Membership.
//
// The upstream filter is not thread-safe, so every call goes through a
// read-write mutex; lookups share the read lock. Fingerprints are fixed at
// the upstream size of 8 bits, which makes this backend noticeably less
// precise than AtomicCuckoo at the same capacity.
type LockedCuckoo struct {
	mu       sync.RWMutex
	cf       *cuckoo.Filter
	capacity uint64
}

// NewLockedCuckoo creates a mutex-guarded cuckoo filter for capacity items.
// A capacity of 0 is treated as 1.
func NewLockedCuckoo(capacity uint64) *LockedCuckoo {
	if capacity == 0 {
		capacity = 1
	}
	return &LockedCuckoo{
		cf:       cuckoo.NewFilter(uint(capacity)),
		capacity: capacity,
	}
}

// hashKey encodes a pre-computed hash as the key handed to the upstream
// filter, which hashes it again.
func hashKey(h uint64) [8]byte {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], h)
	return key
}

// InsertHash adds h, returning ErrCapacityExceeded when the filter holds Cap
// items or the upstream insert fails.
func (f *LockedCuckoo) InsertHash(h uint64) error {
	key := hashKey(h)

	f.mu.Lock()
	defer f.mu.Unlock()

	if uint64(f.cf.Count()) >= f.capacity {
		return ErrCapacityExceeded
	}
	if !f.cf.Insert(key[:]) {
		return ErrCapacityExceeded
	}
	return nil
}

// ContainsHash reports whether h might be present.
func (f *LockedCuckoo) ContainsHash(h uint64) bool {
	key := hashKey(h)

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cf.Lookup(key[:])
}

// DeleteHash removes one occurrence of h.
func (f *LockedCuckoo) DeleteHash(h uint64) (bool, error) {
	key := hashKey(h)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cf.Delete(key[:]), nil
}

// Clear removes all items.
func (f *LockedCuckoo) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cf.Reset()
}

// Len returns the number of stored items.
func (f *LockedCuckoo) Len() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(f.cf.Count())
}

// Cap returns the maximum number of items.
func (f *LockedCuckoo) Cap() uint64 {
	return f.capacity
}
