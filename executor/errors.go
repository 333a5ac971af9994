package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/lock"
)

var (
	// ErrCapability matches *CapabilityError.
	ErrCapability = errors.New("missing capability")

	// ErrHandlerPanic matches *HandlerPanicError.
	ErrHandlerPanic = errors.New("handler panicked")
)

// CapabilityError is returned when the caller lacks a capability the effect
// requires. Nothing has been acquired or run when it is returned.
type CapabilityError struct {
	Task     lock.TaskID
	EffectID string
	Kind     effect.Kind
	Missing  []effect.Capability
}

func (e *CapabilityError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = string(c)
	}
	return fmt.Sprintf("task %s: %s effect requires %s", e.Task, e.Kind, strings.Join(names, ", "))
}

func (e *CapabilityError) Is(target error) bool { return target == ErrCapability }

// OrderViolationError is returned when a nested effect needs a resource that
// sorts before one its task already holds. Acquiring it could deadlock, so
// the nested effect is refused. It is an acquisition failure.
type OrderViolationError struct {
	Task     lock.TaskID
	Resource effect.ResourceID
	Held     effect.ResourceID
	// Upgrade is set when the task holds Resource shared and the nested
	// effect needs it exclusively.
	Upgrade bool
}

func (e *OrderViolationError) Error() string {
	if e.Upgrade {
		return fmt.Sprintf("task %s: cannot upgrade shared guard on %s", e.Task, e.Resource)
	}
	return fmt.Sprintf("task %s: nested acquire of %s after %s breaks canonical order", e.Task, e.Resource, e.Held)
}

func (e *OrderViolationError) Is(target error) bool { return target == lock.ErrAcquireFailed }

// HandlerPanicError is returned when the handler or the continuation
// panics. The effect's guards have been released and nothing was logged.
type HandlerPanicError struct {
	Task     lock.TaskID
	EffectID string
	Value    any
	Stack    []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("task %s: handler panic in effect %s: %v", e.Task, shortID(e.EffectID), e.Value)
}

func (e *HandlerPanicError) Is(target error) bool { return target == ErrHandlerPanic }

// RuntimeError represents a nested execution the executor refused to run.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	Task     lock.TaskID
	EffectID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDepthExceeded indicates nested effects went deeper than the
	// configured limit.
	ErrCodeDepthExceeded RuntimeErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeNestedCycle indicates a handler re-submitted an effect that is
	// already executing further up the same task.
	ErrCodeNestedCycle RuntimeErrorCode = "NESTED_CYCLE"
)

func (e *RuntimeError) Error() string {
	if e.EffectID != "" {
		return fmt.Sprintf("%s: %s (task=%s, effect=%s)", e.Code, e.Message, e.Task, shortID(e.EffectID))
	}
	return fmt.Sprintf("%s: %s (task=%s)", e.Code, e.Message, e.Task)
}

func newDepthError(task lock.TaskID, depth, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDepthExceeded,
		Message: fmt.Sprintf("nested depth %d exceeds limit %d", depth, limit),
		Task:    task,
		Details: map[string]string{
			"depth": fmt.Sprintf("%d", depth),
			"limit": fmt.Sprintf("%d", limit),
		},
	}
}

func newCycleError(task lock.TaskID, effectID string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeNestedCycle,
		Message:  "effect is already executing in this task",
		Task:     task,
		EffectID: effectID,
	}
}

// IsCapabilityError reports whether err is or wraps *CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// IsOrderViolation reports whether err is or wraps *OrderViolationError.
func IsOrderViolation(err error) bool {
	var oe *OrderViolationError
	return errors.As(err, &oe)
}

// IsDepthExceeded reports whether err is a depth-limit RuntimeError.
func IsDepthExceeded(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeDepthExceeded
}

// IsNestedCycle reports whether err is a nested-cycle RuntimeError.
func IsNestedCycle(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeNestedCycle
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
