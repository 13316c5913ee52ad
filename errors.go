package ttlfilter

import "errors"

var (
	// ErrInvalidConfig is returned by New when the configuration is invalid
	// or inconsistent. The filter is never constructed in that case.
	ErrInvalidConfig = errors.New("ttlfilter: invalid configuration")

	// ErrCapacityExceeded is returned when a slot cannot accept another item,
	// either because its share of the capacity is used up or because no
	// cuckoo displacement path was found within the eviction budget.
	ErrCapacityExceeded = errors.New("ttlfilter: slot capacity exceeded")
)
