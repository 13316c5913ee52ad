package ttlfilter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// cacheLineSize is the size of a CPU cache line in bytes.
const cacheLineSize = 64

// pathAttempts is how many times an insert searches for a displacement path
// before giving up. A path is abandoned when a concurrent insert claims one
// of its free entries.
const pathAttempts = 4

// CuckooParams holds the tuning parameters of an AtomicCuckoo.
type CuckooParams struct {
	// FingerprintBits is the fingerprint size: 4, 8, 16 or 32.
	FingerprintBits uint
	// BucketSize is the number of fingerprints per bucket, 1 to MaxBucketSize.
	BucketSize uint
	// MaxEvictions bounds the number of buckets visited while searching for a
	// displacement path.
	MaxEvictions uint
}

// DefaultCuckooParams returns the default parameters.
func DefaultCuckooParams() CuckooParams {
	return CuckooParams{
		FingerprintBits: DefaultFingerprintBits,
		BucketSize:      DefaultBucketSize,
		MaxEvictions:    DefaultMaxEvictions,
	}
}

func (p CuckooParams) validate() error {
	if !validFingerprintBits(p.FingerprintBits) {
		return fmt.Errorf("%w: fingerprint size must be 4, 8, 16 or 32 bits (got %d)", ErrInvalidConfig, p.FingerprintBits)
	}
	if p.BucketSize == 0 || p.BucketSize > MaxBucketSize {
		return fmt.Errorf("%w: bucket size must be between 1 and %d (got %d)", ErrInvalidConfig, MaxBucketSize, p.BucketSize)
	}
	if p.MaxEvictions == 0 {
		return fmt.Errorf("%w: max evictions must be positive", ErrInvalidConfig)
	}
	return nil
}

// AtomicCuckoo is a thread-safe cuckoo filter with a hard capacity.
//
// Fingerprints are packed into atomic.Uint64 words. Inserting into a free
// entry is a single compare-and-swap and lookups never lock. Displacement
// paths, deletes and clears are serialized on an internal mutex; a path is
// executed back to front, copying each fingerprint to its new entry before
// clearing the old one, and lookups retry if a path ran while they scanned.
type AtomicCuckoo struct {
	raw          []byte          // Raw allocation to keep aligned memory alive for GC
	words        []atomic.Uint64 // Packed fingerprints, 64/fpBits entries per word
	numBuckets   uint64          // Power of 2
	bucketMask   uint64          // numBuckets - 1
	bucketSize   uint64          // Entries per bucket
	fpBits       uint            // Bits per fingerprint
	fpMask       uint32          // Low fpBits bits set
	perWord      uint64          // Entries per word
	maxEvictions int             // Bucket budget for a displacement search
	capacity     uint64          // Hard item limit
	count        atomic.Int64    // Number of stored items (approximate)
	moves        atomic.Uint64   // Odd while a displacement path is executing
	mu           sync.Mutex      // Serializes displacement, delete and clear
}

// NewAtomicCuckoo creates a cuckoo filter for capacity items using the
// default parameters.
func NewAtomicCuckoo(capacity uint64) *AtomicCuckoo {
	f, _ := NewAtomicCuckooWithParams(capacity, DefaultCuckooParams())
	return f
}

// NewAtomicCuckooWithParams creates a cuckoo filter for capacity items with
// explicit parameters. A capacity of 0 is treated as 1.
func NewAtomicCuckooWithParams(capacity uint64, p CuckooParams) (*AtomicCuckoo, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if capacity == 0 {
		capacity = 1
	}

	numBuckets := cuckooBuckets(capacity, p.BucketSize)
	perWord := uint64(64 / p.FingerprintBits)
	entries := numBuckets * uint64(p.BucketSize)
	raw, words := makeAlignedAtomicUint64Slice(int((entries + perWord - 1) / perWord))

	return &AtomicCuckoo{
		raw:          raw,
		words:        words,
		numBuckets:   numBuckets,
		bucketMask:   numBuckets - 1,
		bucketSize:   uint64(p.BucketSize),
		fpBits:       p.FingerprintBits,
		fpMask:       uint32((uint64(1) << p.FingerprintBits) - 1),
		perWord:      perWord,
		maxEvictions: int(p.MaxEvictions),
		capacity:     capacity,
	}, nil
}

// makeAlignedAtomicUint64Slice allocates a cache-line aligned slice of atomic.Uint64.
// Returns the raw byte slice (to keep alive for GC) and the aligned atomic slice.
func makeAlignedAtomicUint64Slice(n int) ([]byte, []atomic.Uint64) {
	// atomic.Uint64 is the same size as uint64 (8 bytes)
	const atomicSize = 8
	raw := make([]byte, n*atomicSize+cacheLineSize-1)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := (cacheLineSize - int(addr%cacheLineSize)) % cacheLineSize
	aligned := unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(&raw[offset])), n)
	return raw, aligned
}

// locate returns the word holding an entry and the entry's bit offset in it.
func (f *AtomicCuckoo) locate(bucket, slot uint64) (word uint64, shift uint) {
	g := bucket*f.bucketSize + slot
	return g / f.perWord, uint(g%f.perWord) * f.fpBits
}

// load returns the fingerprint stored in an entry, 0 if empty.
func (f *AtomicCuckoo) load(bucket, slot uint64) uint32 {
	w, shift := f.locate(bucket, slot)
	return uint32(f.words[w].Load()>>shift) & f.fpMask
}

// cas replaces the fingerprint in an entry if it currently holds old.
func (f *AtomicCuckoo) cas(bucket, slot uint64, old, fp uint32) bool {
	w, shift := f.locate(bucket, slot)
	mask := uint64(f.fpMask) << shift
	for {
		cur := f.words[w].Load()
		if uint32(cur>>shift)&f.fpMask != old {
			return false
		}
		next := (cur &^ mask) | uint64(fp)<<shift
		if f.words[w].CompareAndSwap(cur, next) {
			return true
		}
		// Another entry in the same word changed; retry.
	}
}

// tryPlace stores fp in the first free entry of bucket.
func (f *AtomicCuckoo) tryPlace(bucket uint64, fp uint32) bool {
	for s := range f.bucketSize {
		if f.load(bucket, s) == 0 && f.cas(bucket, s, 0, fp) {
			return true
		}
	}
	return false
}

// find returns the entry of bucket holding fp.
func (f *AtomicCuckoo) find(bucket uint64, fp uint32) (uint64, bool) {
	for s := range f.bucketSize {
		if f.load(bucket, s) == fp {
			return s, true
		}
	}
	return 0, false
}

// occurrences counts the entries of bucket holding fp.
func (f *AtomicCuckoo) occurrences(bucket uint64, fp uint32) uint64 {
	var n uint64
	for s := range f.bucketSize {
		if f.load(bucket, s) == fp {
			n++
		}
	}
	return n
}

// buckets returns the two candidate buckets and the fingerprint for h.
func (f *AtomicCuckoo) buckets(h uint64) (i1, i2 uint64, fp uint32) {
	i1, fp = hashSplit(h, f.bucketMask, f.fpMask)
	return i1, altIndex(i1, fp, f.bucketMask), fp
}

// Insert adds data to the filter.
func (f *AtomicCuckoo) Insert(data []byte) error {
	return f.InsertHash(hashData(data))
}

// InsertString adds a string to the filter without allocating.
func (f *AtomicCuckoo) InsertString(s string) error {
	return f.InsertHash(hashString(s))
}

// InsertHash adds a pre-computed xxh3 hash to the filter. It returns
// ErrCapacityExceeded if the filter already holds Cap items or if no
// displacement path could be found.
func (f *AtomicCuckoo) InsertHash(h uint64) error {
	if f.count.Add(1) > int64(f.capacity) {
		f.count.Add(-1)
		return ErrCapacityExceeded
	}

	i1, i2, fp := f.buckets(h)
	if f.tryPlace(i1, fp) || f.tryPlace(i2, fp) {
		return nil
	}
	if err := f.insertDisplacing(i1, i2, fp); err != nil {
		f.count.Add(-1)
		return err
	}
	return nil
}

// cuckooStep is one bucket of a breadth-first displacement search.
type cuckooStep struct {
	bucket uint64
	parent int    // index of the bucket this one was reached from, -1 for roots
	slot   uint64 // entry in the parent bucket whose fingerprint moves here
	fp     uint32 // that fingerprint, as seen during the search
}

// insertDisplacing places fp by moving existing fingerprints to their
// alternate buckets.
func (f *AtomicCuckoo) insertDisplacing(i1, i2 uint64, fp uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for range pathAttempts {
		if f.tryPlace(i1, fp) || f.tryPlace(i2, fp) {
			return nil
		}

		path, end, free, ok := f.findPath(i1, i2)
		if !ok {
			return ErrCapacityExceeded
		}

		f.moves.Add(1)
		placed := f.executePath(path, end, free, fp)
		f.moves.Add(1)
		if placed {
			return nil
		}
	}
	return ErrCapacityExceeded
}

// findPath searches breadth-first for a bucket with a free entry reachable
// from i1 or i2. It returns the search tree, the index of the bucket with the
// free entry and that entry.
func (f *AtomicCuckoo) findPath(i1, i2 uint64) ([]cuckooStep, int, uint64, bool) {
	path := make([]cuckooStep, 0, min(f.maxEvictions, 64))
	visited := make(map[uint64]struct{}, cap(path))

	push := func(st cuckooStep) {
		if _, ok := visited[st.bucket]; ok {
			return
		}
		visited[st.bucket] = struct{}{}
		path = append(path, st)
	}
	push(cuckooStep{bucket: i1, parent: -1})
	push(cuckooStep{bucket: i2, parent: -1})

	for head := 0; head < len(path); head++ {
		b := path[head].bucket
		for s := range f.bucketSize {
			if f.load(b, s) == 0 {
				return path, head, s, true
			}
		}
		if len(path) >= f.maxEvictions {
			continue
		}
		for s := range f.bucketSize {
			fp := f.load(b, s)
			if fp == 0 {
				continue
			}
			push(cuckooStep{
				bucket: altIndex(b, fp, f.bucketMask),
				parent: head,
				slot:   s,
				fp:     fp,
			})
		}
	}
	return nil, 0, 0, false
}

// executePath shifts fingerprints along the path ending at path[end] so that
// a root bucket gets a free entry, then stores fp there. Every moved
// fingerprint is written to its new entry before its old entry is cleared.
func (f *AtomicCuckoo) executePath(path []cuckooStep, end int, free uint64, fp uint32) bool {
	idx := end
	for path[idx].parent >= 0 {
		st := path[idx]
		from := path[st.parent].bucket
		if !f.cas(st.bucket, free, 0, st.fp) {
			// A concurrent insert took the free entry.
			return false
		}
		if !f.cas(from, st.slot, st.fp, 0) {
			f.cas(st.bucket, free, st.fp, 0)
			return false
		}
		free = st.slot
		idx = st.parent
	}
	return f.cas(path[idx].bucket, free, 0, fp)
}

// Contains checks if data might be in the filter.
func (f *AtomicCuckoo) Contains(data []byte) bool {
	return f.ContainsHash(hashData(data))
}

// ContainsString checks if a string might be in the filter without allocating.
func (f *AtomicCuckoo) ContainsString(s string) bool {
	return f.ContainsHash(hashString(s))
}

// ContainsHash checks if a pre-computed xxh3 hash might be in the filter.
// This operation is safe to call concurrently with every other method.
func (f *AtomicCuckoo) ContainsHash(h uint64) bool {
	i1, i2, fp := f.buckets(h)
	for {
		seq := f.moves.Load()
		if _, ok := f.find(i1, fp); ok {
			return true
		}
		if _, ok := f.find(i2, fp); ok {
			return true
		}
		if seq&1 == 0 && f.moves.Load() == seq {
			return false
		}
	}
}

// Count returns how many times data is stored in the filter.
func (f *AtomicCuckoo) Count(data []byte) uint64 {
	return f.CountHash(hashData(data))
}

// CountString returns how many times a string is stored in the filter.
func (f *AtomicCuckoo) CountString(s string) uint64 {
	return f.CountHash(hashString(s))
}

// CountHash returns how many times a pre-computed hash is stored.
func (f *AtomicCuckoo) CountHash(h uint64) uint64 {
	i1, i2, fp := f.buckets(h)
	for {
		seq := f.moves.Load()
		n := f.occurrences(i1, fp)
		if i2 != i1 {
			n += f.occurrences(i2, fp)
		}
		if seq&1 == 0 && f.moves.Load() == seq {
			return n
		}
	}
}

// Delete removes one occurrence of data. Deleting an item that was never
// inserted may remove a colliding fingerprint of another item.
func (f *AtomicCuckoo) Delete(data []byte) (bool, error) {
	return f.DeleteHash(hashData(data))
}

// DeleteString removes one occurrence of a string.
func (f *AtomicCuckoo) DeleteString(s string) (bool, error) {
	return f.DeleteHash(hashString(s))
}

// DeleteHash removes one occurrence of a pre-computed hash. It never fails;
// the error is part of the Membership contract.
func (f *AtomicCuckoo) DeleteHash(h uint64) (bool, error) {
	i1, i2, fp := f.buckets(h)

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range [2]uint64{i1, i2} {
		if s, ok := f.find(b, fp); ok && f.cas(b, s, fp, 0) {
			f.count.Add(-1)
			return true, nil
		}
	}
	return false, nil
}

// Clear removes all items from the filter. Concurrent lookups see either the
// old or the cleared contents of each word.
func (f *AtomicCuckoo) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.words {
		f.words[i].Store(0)
	}
	f.count.Store(0)
}

// Len returns the approximate number of items in the filter.
func (f *AtomicCuckoo) Len() uint64 {
	return uint64(max(f.count.Load(), 0))
}

// Cap returns the maximum number of items the filter accepts.
func (f *AtomicCuckoo) Cap() uint64 {
	return f.capacity
}

// NumBuckets returns the number of buckets in the table.
func (f *AtomicCuckoo) NumBuckets() uint64 {
	return f.numBuckets
}

// BucketSize returns the number of fingerprints per bucket.
func (f *AtomicCuckoo) BucketSize() uint {
	return uint(f.bucketSize)
}

// FingerprintBits returns the fingerprint size in bits.
func (f *AtomicCuckoo) FingerprintBits() uint {
	return f.fpBits
}

// LoadFactor returns the fraction of table entries in use.
func (f *AtomicCuckoo) LoadFactor() float64 {
	return float64(f.Len()) / float64(f.numBuckets*f.bucketSize)
}

// EstimatedFalsePositiveRate estimates the current false positive rate
// based on the load factor.
func (f *AtomicCuckoo) EstimatedFalsePositiveRate() float64 {
	return EstimateFalsePositiveRate(f.fpBits, uint(f.bucketSize), f.LoadFactor())
}
