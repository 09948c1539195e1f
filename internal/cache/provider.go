package cache

import "errors"

// Provider defines the minimal cache operations needed by the memoizing
// components.
type Provider interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Del(key string) error
	Len() int
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(string) ([]byte, error) { return nil, ErrCacheMiss }

// Set discards the value and returns nil.
func (NoopProvider) Set(string, []byte) error { return nil }

// Del is a no-op for the noop cache.
func (NoopProvider) Del(string) error { return nil }

// Len always reports an empty cache.
func (NoopProvider) Len() int { return 0 }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
