package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUProvider implements Provider with a bounded least-recently-used cache.
// Eviction follows true recency order, not insertion order.
type LRUProvider struct {
	inner *lru.Cache[string, []byte]
}

// NewLRUProvider creates a Provider holding at most capacity entries.
func NewLRUProvider(capacity int) (*LRUProvider, error) {
	if capacity <= 0 {
		capacity = 128
	}
	inner, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUProvider{inner: inner}, nil
}

// Get returns the cached value or ErrCacheMiss.
func (p *LRUProvider) Get(key string) ([]byte, error) {
	value, ok := p.inner.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return value, nil
}

// Set stores the value, evicting the least recently used entry when full.
func (p *LRUProvider) Set(key string, value []byte) error {
	p.inner.Add(key, value)
	return nil
}

// Del removes the key if present.
func (p *LRUProvider) Del(key string) error {
	p.inner.Remove(key)
	return nil
}

// Len reports the number of cached entries.
func (p *LRUProvider) Len() int { return p.inner.Len() }

// Close purges all entries.
func (p *LRUProvider) Close() error {
	p.inner.Purge()
	return nil
}
