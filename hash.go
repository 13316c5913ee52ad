package ttlfilter

import "github.com/zeebo/xxh3"

// fingerprintMix is the multiplier used to derive a fingerprint's alternate
// bucket offset (the murmur2 constant, as in most cuckoo filter
// implementations).
const fingerprintMix = 0x5bd1e995

// hashData returns the raw 64-bit xxh3 hash of data.
func hashData(data []byte) uint64 {
	return xxh3.Hash(data)
}

// hashString returns the raw 64-bit xxh3 hash of s.
// This avoids the allocation of converting string to []byte.
func hashString(s string) uint64 {
	return xxh3.HashString(s)
}

// hashSplit splits a 64-bit hash into a primary bucket index and a non-zero
// fingerprint. bucketMask is numBuckets-1 (numBuckets is a power of 2) and
// fpMask selects the low fingerprintBits bits.
func hashSplit(h uint64, bucketMask uint64, fpMask uint32) (bucketIdx uint64, fp uint32) {
	// Upper 32 bits select the bucket, lower 32 bits produce the fingerprint,
	// so the two never share input bits.
	bucketIdx = (h >> 32) & bucketMask
	fp = uint32(h) & fpMask
	if fp == 0 {
		// Zero marks an empty entry.
		fp = 1
	}
	return bucketIdx, fp
}

// altIndex returns the other bucket a fingerprint may live in. Applying it
// twice returns the original bucket because the offset only depends on fp.
func altIndex(bucketIdx uint64, fp uint32, bucketMask uint64) uint64 {
	return (bucketIdx ^ uint64(fp*fingerprintMix)) & bucketMask
}
