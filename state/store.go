// Package state holds the values of resources guarded by the lock manager.
//
// Store is an in-memory table backed by go-memdb. Every write goes through a
// single transaction, so a failed effect never leaves a partial update, and
// Snapshot freezes the table cheaply for replay. Handlers never touch a Store
// directly: they see a Stage restricted to the resources their task holds.
package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

const (
	table   = "resources"
	idIndex = "id"
)

// ErrNotLocked is returned when a stage is asked for a resource outside the
// set its task holds.
var ErrNotLocked = errors.New("resource not held by task")

// Reader reads committed or staged resource values.
type Reader interface {
	Get(r effect.ResourceID) (ir.Value, bool, error)
}

// entry is the stored row. Rows are replaced, never mutated in place.
type entry struct {
	ID      string
	Value   ir.Value
	Version int64
}

// Write is one staged change. Delete removes the resource.
type Write struct {
	Resource effect.ResourceID
	Value    ir.Value
	Delete   bool
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			table: {
				Name: table,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}

// Store is the live resource table. It is safe for concurrent use; callers
// serialize per-resource access through the lock manager.
type Store struct {
	db *memdb.MemDB
}

// New returns an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("state: create table: %w", err)
	}
	return &Store{db: db}, nil
}

// FromValues returns a store seeded with values.
func FromValues(values map[effect.ResourceID]ir.Value) (*Store, error) {
	s, err := New()
	if err != nil {
		return nil, err
	}
	writes := make([]Write, 0, len(values))
	for _, r := range slices.Sorted(maps.Keys(values)) {
		writes = append(writes, Write{Resource: r, Value: values[r]})
	}
	if err := s.Apply(writes); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the value of r.
func (s *Store) Get(r effect.ResourceID) (ir.Value, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	return lookup(txn, r)
}

// Version returns how many times r has been written, 0 if never.
func (s *Store) Version(r effect.ResourceID) (int64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(table, idIndex, string(r))
	if err != nil || raw == nil {
		return 0, err
	}
	return raw.(*entry).Version, nil
}

// Hash is the content hash of the current value of r.
func (s *Store) Hash(r effect.ResourceID) (string, error) {
	v, ok, err := s.Get(r)
	if err != nil {
		return "", err
	}
	return ir.StateHash(v, ok), nil
}

// Apply commits writes atomically.
func (s *Store) Apply(writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	for _, w := range writes {
		old, err := txn.First(table, idIndex, string(w.Resource))
		if err != nil {
			return fmt.Errorf("state: load %s: %w", w.Resource, err)
		}
		if w.Delete {
			if old != nil {
				if err := txn.Delete(table, old); err != nil {
					return fmt.Errorf("state: delete %s: %w", w.Resource, err)
				}
			}
			continue
		}
		var version int64 = 1
		if old != nil {
			version = old.(*entry).Version + 1
		}
		row := &entry{ID: string(w.Resource), Value: ir.CloneValue(w.Value), Version: version}
		if err := txn.Insert(table, row); err != nil {
			return fmt.Errorf("state: write %s: %w", w.Resource, err)
		}
	}
	txn.Commit()
	return nil
}

// Dump returns every resource value.
func (s *Store) Dump() (map[effect.ResourceID]ir.Value, error) {
	return dump(s.db)
}

// Snapshot freezes the current table. Later writes to s are not visible
// through the snapshot.
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{db: s.db.Snapshot()}
}

// Snapshot is a frozen copy of a Store.
type Snapshot struct {
	db *memdb.MemDB
}

// Get returns a copy of the value of r in the snapshot.
func (s *Snapshot) Get(r effect.ResourceID) (ir.Value, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	return lookup(txn, r)
}

// Dump returns every resource value in the snapshot.
func (s *Snapshot) Dump() (map[effect.ResourceID]ir.Value, error) {
	return dump(s.db)
}

// Thaw returns a writable store starting from the snapshot. Writes to it do
// not affect the snapshot.
func (s *Snapshot) Thaw() *Store {
	return &Store{db: s.db.Snapshot()}
}

func lookup(txn *memdb.Txn, r effect.ResourceID) (ir.Value, bool, error) {
	raw, err := txn.First(table, idIndex, string(r))
	if err != nil {
		return nil, false, fmt.Errorf("state: load %s: %w", r, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	return ir.CloneValue(raw.(*entry).Value), true, nil
}

func dump(db *memdb.MemDB) (map[effect.ResourceID]ir.Value, error) {
	txn := db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, idIndex)
	if err != nil {
		return nil, fmt.Errorf("state: scan: %w", err)
	}
	out := make(map[effect.ResourceID]ir.Value)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*entry)
		out[effect.ResourceID(e.ID)] = ir.CloneValue(e.Value)
	}
	return out, nil
}
