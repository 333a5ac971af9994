package execlog

import (
	"context"
	"fmt"

	ristretto "github.com/dgraph-io/ristretto/v2"
)

// CachedStore puts a ristretto read cache in front of another store. Records
// are immutable once appended, so cached entries never go stale.
type CachedStore struct {
	inner Store
	cache *ristretto.Cache[string, Record]
}

// NewCachedStore caches up to size records read from or written to inner.
func NewCachedStore(inner Store, size int64) (*CachedStore, error) {
	if size < 1 {
		size = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Record]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

func (s *CachedStore) Append(ctx context.Context, r Record) error {
	if err := s.inner.Append(ctx, r); err != nil {
		return err
	}
	s.cache.Set(r.Hash, r, 1)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, hash string) (Record, error) {
	if r, ok := s.cache.Get(hash); ok {
		return r, nil
	}
	r, err := s.inner.Get(ctx, hash)
	if err != nil {
		return Record{}, err
	}
	s.cache.Set(hash, r, 1)
	return r, nil
}

func (s *CachedStore) Scan(ctx context.Context, fn func(Record) error) error {
	return s.inner.Scan(ctx, fn)
}

// Wait blocks until pending cache writes are visible. Ristretto applies
// sets asynchronously.
func (s *CachedStore) Wait() { s.cache.Wait() }

// Metrics exposes the cache's hit and miss counters.
func (s *CachedStore) Metrics() *ristretto.Metrics { return s.cache.Metrics }

func (s *CachedStore) Close() error {
	s.cache.Close()
	return s.inner.Close()
}
