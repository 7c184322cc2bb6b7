package cache

import (
	"time"
)

// Cache defines the interface for TTL-aware caching.
// The TTL is supplied by the reader, so one entry can be judged fresh or stale
// by different callers.
type Cache[V any] interface {
	Get(key string, ttl time.Duration) (V, bool)
	Put(key string, value V)
}
