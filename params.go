package ttlfilter

import (
	"fmt"
	"math"
	"time"
)

const (
	// DefaultCapacity is the default total number of items, divided evenly
	// across all slots.
	DefaultCapacity = 1 << 20
	// DefaultFingerprintBits is the default fingerprint size, twice the usual
	// cuckoo filter default of 16 bits.
	DefaultFingerprintBits = 32
	// DefaultBucketSize is the default number of fingerprints per bucket.
	DefaultBucketSize = 4
	// DefaultMaxEvictions is the default number of displacements tried before
	// an insert gives up.
	DefaultMaxEvictions = 500
	// DefaultTTL is the default minimum lifetime of an item.
	DefaultTTL = 24 * time.Hour
	// DefaultExpirationPeriod is the default maximum interval between Expire
	// calls.
	DefaultExpirationPeriod = time.Hour

	// MaxBucketSize is the largest supported bucket size.
	MaxBucketSize = 8
)

// maxLoadFactor bounds how full a cuckoo table with the given bucket size may
// get at full capacity. Past these loads displacement paths grow quickly and
// inserts start failing.
func maxLoadFactor(bucketSize uint) float64 {
	switch {
	case bucketSize <= 1:
		return 0.45
	case bucketSize == 2:
		return 0.8
	case bucketSize <= 4:
		return 0.9
	default:
		return 0.93
	}
}

// validFingerprintBits reports whether bits is a supported fingerprint size.
// Sizes divide 64 so fingerprints pack evenly into one atomic word.
func validFingerprintBits(bits uint) bool {
	switch bits {
	case 4, 8, 16, 32:
		return true
	}
	return false
}

// SlotCount returns the number of slots needed to keep items queryable for
// ttl when Expire is called at least once per period:
// ceil(ttl / period) + 1.
func SlotCount(ttl, period time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: ttl must be positive (got %s)", ErrInvalidConfig, ttl)
	}
	if period <= 0 {
		return 0, fmt.Errorf("%w: expiration period must be positive (got %s)", ErrInvalidConfig, period)
	}
	if period > ttl {
		return 0, fmt.Errorf("%w: expiration period %s exceeds ttl %s", ErrInvalidConfig, period, ttl)
	}

	periods := ttl / period
	if ttl%period != 0 {
		periods++
	}
	return int(periods) + 1, nil
}

// SlotCapacity returns the per-slot share of capacity, ceil(capacity / slots).
// The sum over all slots is never below capacity.
func SlotCapacity(capacity uint64, slots int) uint64 {
	if slots <= 0 {
		return capacity
	}
	n := uint64(slots)
	return (capacity + n - 1) / n
}

// cuckooBuckets returns the number of buckets (a power of 2) needed to hold
// capacity fingerprints without exceeding maxLoadFactor.
func cuckooBuckets(capacity uint64, bucketSize uint) uint64 {
	if capacity == 0 {
		capacity = 1
	}
	bs := uint64(bucketSize)
	limit := maxLoadFactor(bucketSize)
	numBuckets := nextPowerOf2((capacity + bs - 1) / bs)
	for float64(capacity) > limit*float64(numBuckets*bs) {
		numBuckets <<= 1
	}
	return numBuckets
}

// EstimateFalsePositiveRate estimates the false positive rate of a single
// cuckoo filter. A lookup compares against 2*bucketSize entries, each
// occupied with probability loadFactor and matching with probability
// 1/2^fingerprintBits.
// Formula: 1 - (1 - 2^-f)^(2*b*load)
func EstimateFalsePositiveRate(fingerprintBits, bucketSize uint, loadFactor float64) float64 {
	if loadFactor <= 0 || fingerprintBits == 0 {
		return 0
	}
	loadFactor = min(loadFactor, 1)

	match := math.Ldexp(1, -int(fingerprintBits))
	probes := 2 * float64(bucketSize) * loadFactor
	return 1 - math.Pow(1-match, probes)
}

// CompoundFalsePositiveRate returns the false positive rate of a lookup across
// n independent filters that each have false positive rate p:
// 1 - (1 - p)^n.
func CompoundFalsePositiveRate(p float64, n int) float64 {
	if p <= 0 || n <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	return 1 - math.Pow(1-p, float64(n))
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

const (
	// BlockBits is the number of bits per bloom filter block (cache line size).
	BlockBits = 512
	// blockWords is the number of uint64s per block.
	blockWords = BlockBits / 64
	// ln2 is the natural logarithm of 2.
	ln2 = 0.6931471805599453
	// ln2Squared is ln(2)^2.
	ln2Squared = 0.4804530139182014
)

// primePartitions holds, for each supported k, k strictly distinct values
// summing to exactly 512 so each probe of a key hits its own segment of one
// block. For odd k one value is even because an odd count of odd numbers
// cannot sum to 512.
var primePartitions = map[uint32][]uint32{
	3:  {167, 173, 172},
	4:  {109, 127, 137, 139},
	5:  {97, 101, 103, 109, 102},
	6:  {61, 79, 83, 89, 97, 103},
	7:  {61, 67, 71, 79, 83, 89, 62},
	8:  {37, 47, 53, 61, 67, 71, 79, 97},
	9:  {41, 43, 47, 53, 59, 67, 71, 73, 58},
	10: {31, 37, 41, 43, 47, 53, 59, 61, 67, 73},
	11: {29, 31, 37, 41, 43, 44, 47, 53, 59, 61, 67},
	12: {17, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 71},
	13: {17, 19, 23, 29, 31, 37, 41, 43, 47, 52, 53, 59, 61},
	14: {11, 13, 17, 19, 23, 29, 31, 37, 41, 47, 53, 59, 61, 71},
}

// BloomParams returns the number of 512-bit blocks and hash probes (k) for a
// bloom filter holding expectedItems at fpRate.
func BloomParams(expectedItems uint64, fpRate float64) (numBlocks uint64, k uint32) {
	expectedItems = max(expectedItems, 1)
	if fpRate <= 0 {
		fpRate = 0.0001
	}
	if fpRate >= 1 {
		fpRate = 0.99
	}

	// -ln(p) / ln(2)^2 bits per item, rounded up to whole blocks.
	bitsPerItem := -math.Log(fpRate) / ln2Squared
	numBlocks = uint64(math.Ceil(float64(expectedItems) * bitsPerItem / BlockBits))

	// k = (m/n) * ln(2) using the block-rounded m.
	actual := float64(numBlocks*BlockBits) / float64(expectedItems)
	k = uint32(math.Round(actual * ln2))
	return numBlocks, min(max(k, 3), 14)
}

// partitionOffsets returns the cumulative bit offset of each partition.
func partitionOffsets(primes []uint32) []uint32 {
	offsets := make([]uint32, len(primes))
	var cumulative uint32
	for i, p := range primes {
		offsets[i] = cumulative
		cumulative += p
	}
	return offsets
}

// estimateBloomFalsePositiveRate returns (1 - e^(-kn/m))^k.
func estimateBloomFalsePositiveRate(numBlocks uint64, k uint32, itemsAdded uint64) float64 {
	m := float64(numBlocks * BlockBits)
	n := float64(itemsAdded)
	if m == 0 || n == 0 {
		return 0
	}
	kf := float64(k)
	return math.Pow(1-math.Exp(-kf*n/m), kf)
}
