package cache

import "errors"

var (
	// ErrCacheUnavailable is returned while the circuit breaker is open
	ErrCacheUnavailable = errors.New("cache unavailable (circuit breaker open)")
	// ErrCacheMiss is returned when a key does not exist
	ErrCacheMiss = errors.New("cache miss")
)
