package benchmarks

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bab "github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	atomicbloom "github.com/ericvolp12/atomic-bloom"
	"github.com/greatroar/blobloom"
	"github.com/jcalabro/ttlfilter"
)

const (
	benchItems  = 1_000_000
	benchFPRate = 0.01
	benchTTL    = time.Hour
	benchPeriod = 10 * time.Minute
	benchSlots  = 7
)

// Pre-generate test data to avoid measuring string generation
var testKeys [][]byte
var testKeysStr []string

func init() {
	testKeys = make([][]byte, benchItems)
	testKeysStr = make([]string, benchItems)
	for i := range benchItems {
		s := fmt.Sprintf("key-%d", i)
		testKeys[i] = []byte(s)
		testKeysStr[i] = s
	}
}

func newFilter(b *testing.B, factory ttlfilter.SlotFactory) *ttlfilter.Filter {
	b.Helper()
	f, err := ttlfilter.New(
		ttlfilter.WithTTL(benchTTL),
		ttlfilter.WithExpirationPeriod(benchPeriod),
		ttlfilter.WithCapacity(benchItems),
		ttlfilter.WithSlotFactory(factory),
	)
	if err != nil {
		b.Fatalf("ttlfilter.New: %v", err)
	}
	return f
}

// insertOrRotate expires a slot whenever the write slot fills up, so inserts
// run in steady state for any b.N.
func insertOrRotate(f *ttlfilter.Filter, key []byte) {
	if err := f.Insert(key); errors.Is(err, ttlfilter.ErrCapacityExceeded) {
		f.Expire()
		_ = f.Insert(key)
	}
}

func fill(f *ttlfilter.Filter, n int) {
	perSlot := int(f.SlotCapacity())
	for i := range n {
		if i > 0 && i%perSlot == 0 {
			f.Expire()
		}
		insertOrRotate(f, testKeys[i])
	}
}

// generational is the classic expiring bloom baseline: a current filter that
// takes writes and a previous one kept for lookups, swapped every period.
type generational struct {
	mu       sync.RWMutex
	cur      *bab.BloomFilter
	prev     *bab.BloomFilter
	perGen   uint
	inserted uint
}

func newGenerational(items uint) *generational {
	return &generational{
		cur:    bab.NewWithEstimates(items, benchFPRate),
		prev:   bab.NewWithEstimates(items, benchFPRate),
		perGen: items,
	}
}

func (g *generational) Add(key []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inserted >= g.perGen {
		g.prev, g.cur = g.cur, bab.NewWithEstimates(g.perGen, benchFPRate)
		g.inserted = 0
	}
	g.cur.Add(key)
	g.inserted++
}

func (g *generational) Test(key []byte) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cur.Test(key) || g.prev.Test(key)
}

// ============================================================================
// Sequential Insert Benchmarks
// ============================================================================

func BenchmarkInsertSequential_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	b.ResetTimer()
	for i := range b.N {
		insertOrRotate(f, testKeys[i%benchItems])
	}
}

func BenchmarkInsertSequential_AtomicCuckooString(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	b.ResetTimer()
	for i := range b.N {
		if err := f.InsertString(testKeysStr[i%benchItems]); err != nil {
			f.Expire()
		}
	}
}

func BenchmarkInsertSequential_LockedCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.LockedCuckooFactory)
	b.ResetTimer()
	for i := range b.N {
		insertOrRotate(f, testKeys[i%benchItems])
	}
}

func BenchmarkInsertSequential_AtomicBloom(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicBloomFactory)
	b.ResetTimer()
	for i := range b.N {
		insertOrRotate(f, testKeys[i%benchItems])
	}
}

func BenchmarkInsertSequential_Generational(b *testing.B) {
	g := newGenerational(benchItems / benchSlots)
	b.ResetTimer()
	for i := range b.N {
		g.Add(testKeys[i%benchItems])
	}
}

func BenchmarkInsertSequential_Blobloom(b *testing.B) {
	f := blobloom.NewOptimized(blobloom.Config{
		Capacity: benchItems,
		FPRate:   benchFPRate,
	})
	b.ResetTimer()
	for i := range b.N {
		// blobloom requires pre-hashing
		h := xxhash.Sum64(testKeys[i%benchItems])
		f.Add(h)
	}
}

// ============================================================================
// Sequential Contains Benchmarks
// ============================================================================

func BenchmarkContainsSequential_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	fill(f, benchItems)
	b.ResetTimer()
	for i := range b.N {
		f.Contains(testKeys[i%benchItems])
	}
}

func BenchmarkContainsSequential_AtomicCuckooString(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	fill(f, benchItems)
	b.ResetTimer()
	for i := range b.N {
		f.ContainsString(testKeysStr[i%benchItems])
	}
}

// A lookup for an absent key scans every slot.
func BenchmarkContainsSequentialMiss_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	fill(f, benchItems)
	miss := []byte("absent-key")
	b.ResetTimer()
	for range b.N {
		f.Contains(miss)
	}
}

func BenchmarkContainsSequential_LockedCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.LockedCuckooFactory)
	fill(f, benchItems)
	b.ResetTimer()
	for i := range b.N {
		f.Contains(testKeys[i%benchItems])
	}
}

func BenchmarkContainsSequential_AtomicBloom(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicBloomFactory)
	fill(f, benchItems)
	b.ResetTimer()
	for i := range b.N {
		f.Contains(testKeys[i%benchItems])
	}
}

func BenchmarkContainsSequential_Generational(b *testing.B) {
	g := newGenerational(benchItems / benchSlots)
	for i := range benchItems {
		g.Add(testKeys[i])
	}
	b.ResetTimer()
	for i := range b.N {
		g.Test(testKeys[i%benchItems])
	}
}

func BenchmarkContainsSequential_Blobloom(b *testing.B) {
	f := blobloom.NewOptimized(blobloom.Config{
		Capacity: benchItems,
		FPRate:   benchFPRate,
	})
	// Pre-hash keys for fair comparison
	hashes := make([]uint64, benchItems)
	for i := range benchItems {
		hashes[i] = xxhash.Sum64(testKeys[i])
		f.Add(hashes[i])
	}
	b.ResetTimer()
	for i := range b.N {
		f.Has(hashes[i%benchItems])
	}
}

// ============================================================================
// Parallel Benchmarks
// ============================================================================

func BenchmarkInsertParallel_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			insertOrRotate(f, testKeys[i%benchItems])
			i++
		}
	})
}

func BenchmarkInsertParallel_LockedCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.LockedCuckooFactory)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			insertOrRotate(f, testKeys[i%benchItems])
			i++
		}
	})
}

func BenchmarkInsertParallel_AtomicBloom(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicBloomFactory)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			insertOrRotate(f, testKeys[i%benchItems])
			i++
		}
	})
}

// Non-expiring concurrent bloom filter, as an upper bound for insert
// throughput.
func BenchmarkInsertParallel_EricvolpAtomicBloom(b *testing.B) {
	f := atomicbloom.NewWithEstimates(benchItems, benchFPRate)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			f.Add(testKeys[i%benchItems])
			i++
		}
	})
}

func BenchmarkContainsParallel_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	fill(f, benchItems)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			f.Contains(testKeys[i%benchItems])
			i++
		}
	})
}

func BenchmarkContainsParallel_LockedCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.LockedCuckooFactory)
	fill(f, benchItems)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			f.Contains(testKeys[i%benchItems])
			i++
		}
	})
}

func BenchmarkContainsParallel_EricvolpAtomicBloom(b *testing.B) {
	f := atomicbloom.NewWithEstimates(benchItems, benchFPRate)
	for i := range benchItems {
		f.Add(testKeys[i])
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			f.Test(testKeys[i%benchItems])
			i++
		}
	})
}

// ============================================================================
// Mixed Read/Write Benchmarks (50/50 split)
// ============================================================================

func BenchmarkMixed_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	// Pre-populate half
	fill(f, benchItems/2)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				insertOrRotate(f, testKeys[(benchItems/2+i)%benchItems])
			} else {
				f.Contains(testKeys[i%benchItems])
			}
			i++
		}
	})
}

func BenchmarkMixed_Generational(b *testing.B) {
	g := newGenerational(benchItems / benchSlots)
	// Pre-populate half
	for i := 0; i < benchItems/2; i++ {
		g.Add(testKeys[i])
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				g.Add(testKeys[(benchItems/2+i)%benchItems])
			} else {
				g.Test(testKeys[i%benchItems])
			}
			i++
		}
	})
}

// ============================================================================
// Expiration Benchmarks
// ============================================================================

func BenchmarkExpire_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	fill(f, benchItems)
	b.ResetTimer()
	for range b.N {
		f.Expire()
	}
}

func BenchmarkExpire_AtomicBloom(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicBloomFactory)
	fill(f, benchItems)
	b.ResetTimer()
	for range b.N {
		f.Expire()
	}
}

// Readers and writers keep running while one goroutine expires continuously.
func BenchmarkContainsDuringExpire_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	fill(f, benchItems)

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() {
			f.Expire()
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			f.Contains(testKeys[i%benchItems])
			i++
		}
	})
	b.StopTimer()
	stop.Store(true)
	<-done
}

// ============================================================================
// Memory Allocation Benchmarks
// ============================================================================

func BenchmarkInsertAlloc_AtomicCuckoo(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		insertOrRotate(f, testKeys[i%benchItems])
	}
}

func BenchmarkInsertAlloc_AtomicCuckooString(b *testing.B) {
	f := newFilter(b, ttlfilter.AtomicCuckooFactory)
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		if err := f.InsertString(testKeysStr[i%benchItems]); err != nil {
			f.Expire()
		}
	}
}

// ============================================================================
// High Contention Benchmarks
// ============================================================================

func BenchmarkHighContention_AtomicCuckoo(b *testing.B) {
	// Use a small filter to maximize contention
	f, err := ttlfilter.New(
		ttlfilter.WithTTL(benchTTL),
		ttlfilter.WithExpirationPeriod(benchPeriod),
		ttlfilter.WithCapacity(benchSlots*1000),
	)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			// All goroutines write to same small set of buckets
			insertOrRotate(f, testKeys[i%1000])
			i++
		}
	})
}

// ============================================================================
// Throughput Test (items per second)
// ============================================================================

func BenchmarkThroughput_AtomicCuckoo(b *testing.B) {
	const goroutines = 8
	const itemsPerGoroutine = 100000

	f := newFilter(b, ttlfilter.AtomicCuckooFactory)

	b.ResetTimer()
	for range b.N {
		var wg sync.WaitGroup
		wg.Add(goroutines)
		for g := range goroutines {
			go func(gid int) {
				defer wg.Done()
				base := gid * itemsPerGoroutine
				for i := range itemsPerGoroutine {
					insertOrRotate(f, testKeys[(base+i)%benchItems])
				}
			}(g)
		}
		wg.Wait()
	}
	b.ReportMetric(float64(goroutines*itemsPerGoroutine), "items/op")
}
