package effect

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEffect is returned by constructors for malformed effects.
	ErrInvalidEffect = errors.New("invalid effect")

	// ErrContinuationReuse matches *ContinuationReuseError.
	ErrContinuationReuse = errors.New("continuation reused")

	// ErrHandler matches every *HandlerError.
	ErrHandler = errors.New("handler error")
)

// HandlerError is a failure outcome surfaced as a Go error.
type HandlerError struct {
	Kind    ErrorKind
	Status  Status
	Message string
}

func (e *HandlerError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandler
}

// IsKind reports whether err wraps a *HandlerError of kind.
func IsKind(err error, kind ErrorKind) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}

// ContinuationReuseError reports a second Apply on a continuation. It is an
// invariant violation in the caller, never a recoverable condition.
type ContinuationReuseError struct {
	ContinuationID string
	Name           string
}

func (e *ContinuationReuseError) Error() string {
	return fmt.Sprintf("continuation %s (%s) already consumed", e.Name, shortHash(e.ContinuationID))
}

func (e *ContinuationReuseError) Is(target error) bool {
	return target == ErrContinuationReuse
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
