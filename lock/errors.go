package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/effectcore/effect"
)

var (
	// ErrAcquireFailed matches *AcquireError.
	ErrAcquireFailed = errors.New("acquire failed")

	// ErrDoubleRelease matches *DoubleReleaseError.
	ErrDoubleRelease = errors.New("guard released twice")

	// ErrTimeout matches *TimeoutError.
	ErrTimeout = errors.New("acquire timed out")

	// ErrCancelled matches *CancelledError.
	ErrCancelled = errors.New("acquire cancelled")
)

// AcquireError reports a request the manager refused outright.
type AcquireError struct {
	Resource effect.ResourceID
	Task     TaskID
	Reason   string
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire %s for task %s: %s", e.Resource, e.Task, e.Reason)
}

func (e *AcquireError) Is(target error) bool { return target == ErrAcquireFailed }

// DoubleReleaseError reports a second Release on the same guard. The first
// release has already taken effect; the second is a caller bug.
type DoubleReleaseError struct {
	Resource effect.ResourceID
	Task     TaskID
}

func (e *DoubleReleaseError) Error() string {
	return fmt.Sprintf("guard on %s for task %s released twice", e.Resource, e.Task)
}

func (e *DoubleReleaseError) Is(target error) bool { return target == ErrDoubleRelease }

// TimeoutError reports a waiter whose deadline passed while queued.
type TimeoutError struct {
	Resource effect.ResourceID
	Task     TaskID
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("acquire %s for task %s: timed out after %s", e.Resource, e.Task, e.Waited)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

// CancelledError reports a waiter whose context was cancelled while queued.
type CancelledError struct {
	Resource effect.ResourceID
	Task     TaskID
	Cause    error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("acquire %s for task %s: cancelled: %v", e.Resource, e.Task, e.Cause)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

func (e *CancelledError) Unwrap() error { return e.Cause }

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsCancelled reports whether err is or wraps a *CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

func interrupted(ctx context.Context, r effect.ResourceID, task TaskID, started time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Resource: r, Task: task, Waited: time.Since(started)}
	}
	return &CancelledError{Resource: r, Task: task, Cause: context.Cause(ctx)}
}
