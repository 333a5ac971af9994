// Package boltstore persists the execution log in a BoltDB file.
//
// Records live in the "records" bucket keyed by their seq as an 8-byte
// big-endian integer, so cursor order is seq order. The "hashes" bucket maps
// each record hash back to its seq key.
package boltstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/effectcore/execlog"
)

var (
	recordsBucket = []byte("records")
	hashesBucket  = []byte("hashes")
)

// Store is an execlog.Store backed by bbolt.
type Store struct {
	db *bbolt.DB
}

var _ execlog.Store = (*Store)(nil)

// Open creates or opens the database at path. If mode is zero, 0600 is used.
//
// bbolt holds an exclusive file lock; if another process has the file open,
// Open waits until ctx is done and then returns context.DeadlineExceeded.
func Open(ctx context.Context, path string, mode os.FileMode) (*Store, error) {
	if mode == 0 {
		mode = 0600
	}
	if err := ctx.Err(); err != nil {
		// A non-positive timeout would make bbolt wait forever.
		return nil, err
	}

	opts := *bbolt.DefaultOptions
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
		if opts.Timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	db, err := bbolt.Open(path, mode, &opts)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, context.DeadlineExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, hashesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append stores r. bbolt fsyncs on commit, so r is durable when Append
// returns nil.
func (s *Store) Append(ctx context.Context, r execlog.Record) (err error) {
	defer recoverErr(&err)
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := r.Encode()
	if err != nil {
		return fmt.Errorf("append seq=%d: %w", r.Seq, err)
	}
	key := marshalSeq(r.Seq)

	return s.db.Update(func(tx *bbolt.Tx) (err error) {
		defer recoverErr(&err)

		hashes := bucket(tx, hashesBucket)
		if hashes.Get([]byte(r.Hash)) != nil {
			return nil
		}
		records := bucket(tx, recordsBucket)
		if existing := records.Get(key); existing != nil {
			return fmt.Errorf("append seq=%d: %w", r.Seq, execlog.ErrSeqConflict)
		}
		put(records, key, data)
		put(hashes, []byte(r.Hash), key)
		return nil
	})
}

// Get returns the record with the given hash.
func (s *Store) Get(ctx context.Context, hash string) (rec execlog.Record, err error) {
	defer recoverErr(&err)
	if err := ctx.Err(); err != nil {
		return execlog.Record{}, err
	}

	var data []byte
	must(s.db.View(func(tx *bbolt.Tx) (err error) {
		defer recoverErr(&err)
		key := bucket(tx, hashesBucket).Get([]byte(hash))
		if key == nil {
			return fmt.Errorf("get %s: %w", hash, execlog.ErrNotFound)
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte(nil), bucket(tx, recordsBucket).Get(key)...)
		return nil
	}))
	return execlog.DecodeRecord(data)
}

// Scan visits records in seq order. fn runs outside the read transaction,
// in batches, so it may call back into the store.
func (s *Store) Scan(ctx context.Context, fn func(execlog.Record) error) error {
	const batch = 256
	var after []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page [][]byte
		err := s.db.View(func(tx *bbolt.Tx) error {
			c := tx.Bucket(recordsBucket).Cursor()
			k, v := c.First()
			if after != nil {
				k, v = c.Seek(after)
				if k != nil && string(k) == string(after) {
					k, v = c.Next()
				}
			}
			for ; k != nil && len(page) < batch; k, v = c.Next() {
				page = append(page, append([]byte(nil), v...))
				after = append(after[:0], k...)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan records: %w", err)
		}

		for _, data := range page {
			rec, err := execlog.DecodeRecord(data)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < batch {
			return nil
		}
	}
}

// LastSeq returns the highest stored seq, or 0.
func (s *Store) LastSeq() (seq int64, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		if k, _ := tx.Bucket(recordsBucket).Cursor().Last(); k != nil {
			seq = unmarshalSeq(k)
		}
		return nil
	})
	return seq, err
}

func marshalSeq(seq int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	return b[:]
}

func unmarshalSeq(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
