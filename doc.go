// Package ttlfilter provides a thread-safe approximate membership set whose
// items expire after a time-to-live.
//
// It answers "have I seen this item recently?" using a fraction of the memory
// of an exact set. False positive matches are possible, but false negatives
// are not – if the filter says an item has not been seen within the TTL, it
// definitely has not. If it says the item might be present, it could be a
// false positive.
//
// # Architecture
//
// A [Filter] is a ring of N slots. Each slot is an independent approximate
// set (a [Membership]), by default an [AtomicCuckoo]. Inserts go to the
// current write slot. Lookups and deletes scan every slot, newest first.
//
// Time is advanced explicitly. Each call to [Filter.Expire] starts a new tick:
// the write cursor moves to the next slot, which is always empty, and the
// slot after it, the oldest, is cleared. Clearing a whole slot at once is what
// keeps expiration cheap: there are no per-item timestamps and nothing is
// scanned on insert or lookup.
//
// The slot count is derived from the TTL and the expiration period:
//
//	N = ceil(ttl / period) + 1
//
// The requested capacity is split evenly, each slot holding
// ceil(capacity / N) items. A full write slot rejects inserts with
// [ErrCapacityExceeded]; capacity is never borrowed from other slots.
//
// # Expiration
//
// The caller must invoke Expire at least once per expiration period, for
// example from a time.Ticker:
//
//	f, err := ttlfilter.New(
//		ttlfilter.WithTTL(time.Hour),
//		ttlfilter.WithExpirationPeriod(10*time.Minute),
//	)
//	if err != nil {
//		return err
//	}
//
//	go func() {
//		t := time.NewTicker(f.ExpirationPeriod())
//		defer t.Stop()
//		for range t.C {
//			f.Expire()
//		}
//	}()
//
// Expiration is approximate. An item inserted during a tick is removed by the
// (N-1)-th Expire after it, so with one Expire per period it lives between
// (N-2) and (N-1) periods depending on when in its tick it was inserted. See
// [Filter.ExpirationWindow]. Every Expire call advances exactly one slot:
// calling it more often than once per period, or from several goroutines at
// once, expires items early.
//
// # Slot Implementations
//
// [AtomicCuckoo] is a lock-free cuckoo filter. Inserts into a free entry and
// all lookups are wait-free compare-and-swap or load operations on packed
// atomic words. Displacement, delete and clear share an internal mutex that
// lookups never take.
//
// [LockedCuckoo] wraps github.com/seiflotfy/cuckoofilter behind a read-write
// mutex. Its fingerprints are 8 bits.
//
// [AtomicBloom] is a cache-line blocked bloom filter. It is the fastest slot
// for insert-heavy workloads but cannot delete: [Filter.Delete] returns
// [ErrDeleteUnsupported] for items it contains.
//
// Any other type implementing [Membership] can be plugged in with
// [WithSlotFactory].
//
// # False Positive Rate
//
// A lookup consults every slot, so per-slot false positive rates compound:
//
//	p_total = 1 - (1 - p)^N
//
// To compensate, the default fingerprint is 32 bits, twice the usual cuckoo
// filter default. Use [EstimateFalsePositiveRate],
// [CompoundFalsePositiveRate] and [Filter.EstimatedFalsePositiveRate] to size
// a filter.
//
// # Deletes
//
// [Filter.Delete] checks each slot with a lookup before deleting from it,
// because deleting a fingerprint that is not present corrupts some cuckoo
// filters. A false positive lookup still means an unrelated item sharing the
// fingerprint can be removed (a ghost collision); it stays removed until its
// slot is cleared. Larger fingerprints make this rarer. Deletes are not
// atomic across slots.
//
// # Thread Safety
//
// All Filter methods are safe for concurrent use. Insert, Contains and Delete
// never wait on Expire. An insert that races with Expire lands in the old or
// the new write slot, never in neither.
//
// [Filter.InsertUnique] is NOT a single atomic operation – there is a race
// window between the lookup and the insert. Use it for best-effort
// deduplication, not strict mutual exclusion.
package ttlfilter
