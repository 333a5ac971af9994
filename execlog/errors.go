package execlog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Store.Get for an unknown hash.
	ErrNotFound = errors.New("record not found")

	// ErrLogAppend matches *AppendError.
	ErrLogAppend = errors.New("log append failed")

	// ErrIntegrity matches *IntegrityError.
	ErrIntegrity = errors.New("log integrity violation")

	// ErrSeqConflict is returned by stores when a sequence number is
	// already taken by a different record.
	ErrSeqConflict = errors.New("sequence number already used")
)

// AppendError reports a record the store could not persist. The executor
// surfaces it without retrying; the effect's state changes are discarded.
type AppendError struct {
	Seq      int64
	EffectID string
	Err      error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append record seq=%d effect=%s: %v", e.Seq, short(e.EffectID), e.Err)
}

func (e *AppendError) Is(target error) bool { return target == ErrLogAppend }

func (e *AppendError) Unwrap() error { return e.Err }

// IntegrityError reports a stored record whose hash or links do not check
// out.
type IntegrityError struct {
	Seq    int64
	Hash   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("record seq=%d hash=%s: %s", e.Seq, short(e.Hash), e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
