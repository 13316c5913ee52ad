package ttlfilter

import (
	"errors"
	"math/bits"
	"sync/atomic"
)

// ErrDeleteUnsupported is returned when deleting from a slot that cannot
// remove items, such as an AtomicBloom.
var ErrDeleteUnsupported = errors.New("ttlfilter: slot does not support delete")

// minBloomFPRate is the lowest per-slot false positive rate AtomicBloomFactory
// targets. Lower rates only add memory once k is clamped at 14.
const minBloomFPRate = 1e-6

// AtomicBloom is a thread-safe, insert-only bloom filter with a hard item
// limit, usable as a Filter slot.
//
// Memory is divided into 512-bit blocks that each fit in one cache line. All
// k probes for a key hit the same block, and the k bit positions come from one
// hash taken modulo k distinct primes that partition the block. Bits are set
// with atomic OR, so inserts and lookups never lock.
type AtomicBloom struct {
	raw       []byte          // Raw allocation to keep aligned memory alive for GC
	blocks    []atomic.Uint64 // 8 atomic uint64s per block = 512 bits (cache-line aligned)
	numBlocks uint64          // Total number of 512-bit blocks
	k         uint32          // Number of hash functions (partitions)
	primes    []uint32        // Prime partition sizes
	offsets   []uint32        // Cumulative offsets within block
	capacity  uint64          // Hard item limit
	count     atomic.Int64    // Number of items added (approximate)
}

// NewAtomicBloom creates a bloom filter for capacity items at fpRate.
// A capacity of 0 is treated as 1.
func NewAtomicBloom(capacity uint64, fpRate float64) *AtomicBloom {
	capacity = max(capacity, 1)
	numBlocks, k := BloomParams(capacity, fpRate)
	primes := primePartitions[k]
	raw, blocks := makeAlignedAtomicUint64Slice(int(numBlocks * blockWords))

	return &AtomicBloom{
		raw:       raw,
		blocks:    blocks,
		numBlocks: numBlocks,
		k:         k,
		primes:    primes,
		offsets:   partitionOffsets(primes),
		capacity:  capacity,
	}
}

// AtomicBloomFactory builds AtomicBloom slots whose false positive rate
// matches a full cuckoo slot with the same fingerprint and bucket size.
func AtomicBloomFactory(cfg SlotConfig) (Membership, error) {
	p := EstimateFalsePositiveRate(cfg.FingerprintBits, cfg.BucketSize, maxLoadFactor(cfg.BucketSize))
	return NewAtomicBloom(cfg.Capacity, max(p, minBloomFPRate)), nil
}

// split derives the block and the intra-block hash from h. The upper 32 bits
// select the block and the lower 32 bits place the probes.
func (f *AtomicBloom) split(h uint64) (blockIdx uint64, intraHash uint32) {
	return (h >> 32) % f.numBlocks, uint32(h)
}

// Insert adds data to the filter.
func (f *AtomicBloom) Insert(data []byte) error {
	return f.InsertHash(hashData(data))
}

// InsertString adds a string to the filter without allocating.
func (f *AtomicBloom) InsertString(s string) error {
	return f.InsertHash(hashString(s))
}

// InsertHash sets the bits for a pre-computed xxh3 hash. It returns
// ErrCapacityExceeded once Cap items have been inserted.
func (f *AtomicBloom) InsertHash(h uint64) error {
	if f.count.Add(1) > int64(f.capacity) {
		f.count.Add(-1)
		return ErrCapacityExceeded
	}

	blockIdx, intraHash := f.split(h)
	blockBase := blockIdx * blockWords

	// One-hashing: same hash value mod different primes gives independent positions
	for i := range f.k {
		bitPos := f.offsets[i] + (intraHash % f.primes[i])
		f.blocks[blockBase+uint64(bitPos/64)].Or(uint64(1) << (bitPos % 64))
	}
	return nil
}

// Contains checks if data might be in the filter.
func (f *AtomicBloom) Contains(data []byte) bool {
	return f.ContainsHash(hashData(data))
}

// ContainsString checks if a string might be in the filter without allocating.
func (f *AtomicBloom) ContainsString(s string) bool {
	return f.ContainsHash(hashString(s))
}

// ContainsHash checks if a pre-computed xxh3 hash might be in the filter.
func (f *AtomicBloom) ContainsHash(h uint64) bool {
	blockIdx, intraHash := f.split(h)
	blockBase := blockIdx * blockWords

	for i := range f.k {
		bitPos := f.offsets[i] + (intraHash % f.primes[i])
		if f.blocks[blockBase+uint64(bitPos/64)].Load()&(uint64(1)<<(bitPos%64)) == 0 {
			return false
		}
	}
	return true
}

// DeleteHash always fails with ErrDeleteUnsupported; bloom filters cannot
// forget a single item.
func (f *AtomicBloom) DeleteHash(uint64) (bool, error) {
	return false, ErrDeleteUnsupported
}

// Clear resets every bit.
func (f *AtomicBloom) Clear() {
	for i := range f.blocks {
		f.blocks[i].Store(0)
	}
	f.count.Store(0)
}

// Len returns the approximate number of items inserted.
func (f *AtomicBloom) Len() uint64 {
	return uint64(max(f.count.Load(), 0))
}

// Cap returns the maximum number of items the filter accepts.
func (f *AtomicBloom) Cap() uint64 {
	return f.capacity
}

// K returns the number of hash functions (partitions) used.
func (f *AtomicBloom) K() uint32 {
	return f.k
}

// NumBlocks returns the number of 512-bit blocks in the filter.
func (f *AtomicBloom) NumBlocks() uint64 {
	return f.numBlocks
}

// EstimatedFillRatio estimates the proportion of bits that are set.
func (f *AtomicBloom) EstimatedFillRatio() float64 {
	var setBits uint64
	for i := range f.blocks {
		setBits += uint64(bits.OnesCount64(f.blocks[i].Load()))
	}
	return float64(setBits) / float64(f.numBlocks*BlockBits)
}

// EstimatedFalsePositiveRate estimates the current false positive rate.
func (f *AtomicBloom) EstimatedFalsePositiveRate() float64 {
	return estimateBloomFalsePositiveRate(f.numBlocks, f.k, f.Len())
}
