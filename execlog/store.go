package execlog

import (
	"context"
	"fmt"
	"sync"
)

// Store persists records. Append must be atomic and durable before it
// returns: the executor releases an effect's guards only after its record
// is stored.
type Store interface {
	// Append stores r. Appending a record whose hash is already present is
	// a no-op.
	Append(ctx context.Context, r Record) error
	// Get returns the record with the given hash or ErrNotFound.
	Get(ctx context.Context, hash string) (Record, error)
	// Scan calls fn for every record in seq order, stopping at the first
	// error.
	Scan(ctx context.Context, fn func(Record) error) error
	Close() error
}

// MemoryStore keeps records in memory. Useful for tests and for hosts that
// persist elsewhere.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]int
	bySeq  map[int64]string
	order  []Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]int), bySeq: make(map[int64]string)}
}

func (s *MemoryStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[r.Hash]; ok {
		return nil
	}
	if h, ok := s.bySeq[r.Seq]; ok {
		return fmt.Errorf("seq %d held by %s: %w", r.Seq, short(h), ErrSeqConflict)
	}
	s.byHash[r.Hash] = len(s.order)
	s.bySeq[r.Seq] = r.Hash
	s.order = append(s.order, r)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, hash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byHash[hash]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", short(hash), ErrNotFound)
	}
	return s.order[i], nil
}

// Scan visits records in append order, which Log keeps equal to seq order.
func (s *MemoryStore) Scan(ctx context.Context, fn func(Record) error) error {
	s.mu.RLock()
	records := make([]Record, len(s.order))
	copy(records, s.order)
	s.mu.RUnlock()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *MemoryStore) Close() error { return nil }

// All collects every record from store in seq order.
func All(ctx context.Context, store Store) ([]Record, error) {
	var out []Record
	err := store.Scan(ctx, func(r Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}
