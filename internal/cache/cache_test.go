package cache

import (
	"errors"
	"fmt"
	"testing"
)

func TestLRUProviderBasics(t *testing.T) {
	p, err := NewLRUProvider(4)
	if err != nil {
		t.Fatalf("NewLRUProvider: %v", err)
	}
	defer p.Close()

	if err := p.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	got, err := p.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("value = %q", got)
	}

	if _, err := p.Get("missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}

	if err := p.Del("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get("a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatal("deleted key still present")
	}
}

func TestLRUProviderEvictsByRecency(t *testing.T) {
	p, err := NewLRUProvider(2)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	_ = p.Set("a", []byte("1"))
	_ = p.Set("b", []byte("2"))

	// Touch a so b becomes the eviction victim.
	if _, err := p.Get("a"); err != nil {
		t.Fatal(err)
	}
	_ = p.Set("c", []byte("3"))

	if _, err := p.Get("a"); err != nil {
		t.Fatal("recently used entry was evicted")
	}
	if _, err := p.Get("b"); !errors.Is(err, ErrCacheMiss) {
		t.Fatal("least recently used entry survived")
	}
}

func TestLRUProviderCapacity(t *testing.T) {
	p, err := NewLRUProvider(3)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	for i := 0; i < 10; i++ {
		_ = p.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}
	if p.Len() != 3 {
		t.Fatalf("len = %d, want 3", p.Len())
	}
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}

	if err := p.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get("a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatal("noop cache should never hit")
	}
	if p.Len() != 0 {
		t.Fatal("noop cache should be empty")
	}
}
