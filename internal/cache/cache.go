package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is the small key-value surface the webhook processor and the API-key
// rate limiter need. Entries expire after the TTL given at construction.
type Store interface {
	Has(key string) bool
	Put(key string)
	Increment(key string) int
}

type ttlStore struct {
	c *gocache.Cache
}

// New returns an in-memory TTL store. Expired entries are purged twice per TTL.
func New(ttl time.Duration) Store {
	return &ttlStore{c: gocache.New(ttl, ttl/2)}
}

func (s *ttlStore) Has(key string) bool {
	_, found := s.c.Get(key)
	return found
}

func (s *ttlStore) Put(key string) {
	s.c.SetDefault(key, true)
}

// Increment bumps a counter, creating it with the default TTL on first use.
// Used for fixed-window rate limiting keyed by API key.
func (s *ttlStore) Increment(key string) int {
	if err := s.c.Add(key, 1, gocache.DefaultExpiration); err == nil {
		return 1
	}
	n, err := s.c.IncrementInt(key, 1)
	if err != nil {
		s.c.SetDefault(key, 1)
		return 1
	}
	return n
}
