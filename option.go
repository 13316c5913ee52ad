package ttlfilter

import (
	"fmt"
	"log/slog"
	"time"
)

type config struct {
	ttl             time.Duration
	period          time.Duration
	capacity        uint64
	fingerprintBits uint
	bucketSize      uint
	maxEvictions    uint
	factory         SlotFactory
	logger          *slog.Logger
}

func defaultConfig() config {
	return config{
		ttl:             DefaultTTL,
		period:          DefaultExpirationPeriod,
		capacity:        DefaultCapacity,
		fingerprintBits: DefaultFingerprintBits,
		bucketSize:      DefaultBucketSize,
		maxEvictions:    DefaultMaxEvictions,
		factory:         AtomicCuckooFactory,
	}
}

func (c config) validate() error {
	if c.capacity == 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	if c.factory == nil {
		return fmt.Errorf("%w: slot factory must not be nil", ErrInvalidConfig)
	}
	return CuckooParams{
		FingerprintBits: c.fingerprintBits,
		BucketSize:      c.bucketSize,
		MaxEvictions:    c.maxEvictions,
	}.validate()
}

func (c config) slotConfig() SlotConfig {
	return SlotConfig{
		FingerprintBits: c.fingerprintBits,
		BucketSize:      c.bucketSize,
		MaxEvictions:    c.maxEvictions,
	}
}

// Option configures a Filter.
type Option func(*config)

// WithTTL sets the minimum time an inserted item stays queryable, given that
// Expire is called at least once per expiration period.
func WithTTL(d time.Duration) Option {
	return func(c *config) {
		c.ttl = d
	}
}

// WithExpirationPeriod sets the maximum interval between Expire calls. It
// also sets the width of one slot, so the slot count is
// ceil(ttl / period) + 1.
func WithExpirationPeriod(d time.Duration) Option {
	return func(c *config) {
		c.period = d
	}
}

// WithCapacity sets the total number of items, divided evenly across slots.
func WithCapacity(n uint64) Option {
	return func(c *config) {
		c.capacity = n
	}
}

// WithFingerprintSize sets the fingerprint size in bits (4, 8, 16 or 32).
// Larger fingerprints lower the false positive rate, which compounds across
// slots.
func WithFingerprintSize(bits uint) Option {
	return func(c *config) {
		c.fingerprintBits = bits
	}
}

// WithBucketSize sets the number of fingerprints per bucket.
func WithBucketSize(n uint) Option {
	return func(c *config) {
		c.bucketSize = n
	}
}

// WithMaxEvictions sets how many buckets an insert may visit looking for a
// displacement path before it fails.
func WithMaxEvictions(n uint) Option {
	return func(c *config) {
		c.maxEvictions = n
	}
}

// WithSlotFactory sets the constructor for each slot's Membership.
// Fingerprint and bucket settings are passed through but a factory may
// ignore them, as LockedCuckooFactory does.
func WithSlotFactory(fn SlotFactory) Option {
	return func(c *config) {
		c.factory = fn
	}
}

// WithLogger sets a logger for construction and rotation events, logged at
// debug level. Nothing is logged on insert, lookup or delete.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
