package effect

import (
	"fmt"

	"github.com/roach88/effectcore/internal/ir"
)

// Status classifies an outcome.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	// StatusRejected marks a nested effect the executor refused before its
	// handler ran.
	StatusRejected Status = "rejected"
)

// ErrorKind is the typed failure class a handler reports.
type ErrorKind string

const (
	InsufficientFunds ErrorKind = "InsufficientFunds"
	NotFound          ErrorKind = "NotFound"
	CapabilityMissing ErrorKind = "CapabilityMissing"
	// NotApplicable means the handler does not serve this effect. Composite
	// retries on its fallback for this class and for NotFound.
	NotApplicable   ErrorKind = "NotApplicable"
	InvalidInput    ErrorKind = "InvalidInput"
	Conflict        ErrorKind = "Conflict"
	TemporalInvalid ErrorKind = "TemporalInvalid"
)

// Outcome is the result of handling an effect: a success value or a typed
// failure. The zero Outcome is not valid; use Success or Failure.
type Outcome struct {
	status  Status
	value   ir.Value
	kind    ErrorKind
	message string
}

// Success wraps v. A nil v is stored as ir.Null.
func Success(v ir.Value) Outcome {
	if v == nil {
		v = ir.Null{}
	}
	return Outcome{status: StatusSuccess, value: v}
}

// Failure reports a handler error of the given kind.
func Failure(kind ErrorKind, message string) Outcome {
	return Outcome{status: StatusFailure, kind: kind, message: message}
}

// Failuref is Failure with formatting.
func Failuref(kind ErrorKind, format string, args ...any) Outcome {
	return Failure(kind, fmt.Sprintf(format, args...))
}

// Interrupted reports an execution that never reached its handler because
// acquisition was cancelled or timed out.
func Interrupted(status Status, message string) Outcome {
	return Outcome{status: status, message: message}
}

// Rejected reports an effect refused before its handler ran, with the
// failure class and the refusal's message.
func Rejected(kind ErrorKind, message string) Outcome {
	return Outcome{status: StatusRejected, kind: kind, message: message}
}

func (o Outcome) Status() Status { return o.status }

func (o Outcome) IsSuccess() bool { return o.status == StatusSuccess }

// Value is the success value, or nil for failures.
func (o Outcome) Value() ir.Value {
	if !o.IsSuccess() {
		return nil
	}
	return o.value
}

// Kind is the failure class, empty on success.
func (o Outcome) Kind() ErrorKind { return o.kind }

func (o Outcome) Message() string { return o.message }

// Err returns the failure as a *HandlerError, or nil on success.
func (o Outcome) Err() *HandlerError {
	if o.IsSuccess() {
		return nil
	}
	return &HandlerError{Kind: o.kind, Status: o.status, Message: o.message}
}

// Is reports whether o is a failure of kind.
func (o Outcome) Is(kind ErrorKind) bool {
	return o.status == StatusFailure && o.kind == kind
}

// Object is the canonical form of o. Null success values are omitted since
// canonical JSON has no null.
func (o Outcome) Object() ir.Object {
	obj := ir.Obj(ir.O("status", ir.String(o.status)))
	if o.IsSuccess() {
		if _, isNull := o.value.(ir.Null); !isNull && o.value != nil {
			obj["value"] = o.value
		}
		return obj
	}
	if o.kind != "" {
		obj["kind"] = ir.String(o.kind)
	}
	if o.message != "" {
		obj["message"] = ir.String(o.message)
	}
	return obj
}

// Hash is the content hash of o's canonical form.
func (o Outcome) Hash() (string, error) {
	return ir.Hash(ir.DomainOutcome, o.Object())
}

// MustHash is like Hash but panics on error.
func (o Outcome) MustHash() string {
	h, err := o.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

func (o Outcome) String() string {
	if o.IsSuccess() {
		b, err := ir.MarshalValue(o.value)
		if err != nil {
			return "Success(?)"
		}
		return "Success(" + string(b) + ")"
	}
	if o.status != StatusFailure {
		return fmt.Sprintf("%s(%s)", o.status, o.message)
	}
	return fmt.Sprintf("Failure(%s: %s)", o.kind, o.message)
}

// OutcomeFromObject decodes the form produced by Object.
func OutcomeFromObject(obj ir.Object) (Outcome, error) {
	status, ok := obj.Str("status")
	if !ok {
		return Outcome{}, fmt.Errorf("outcome: missing status")
	}
	switch Status(status) {
	case StatusSuccess:
		return Success(obj["value"]), nil
	case StatusFailure, StatusCancelled, StatusTimeout, StatusRejected:
		kind, _ := obj.Str("kind")
		message, _ := obj.Str("message")
		return Outcome{status: Status(status), kind: ErrorKind(kind), message: message}, nil
	default:
		return Outcome{}, fmt.Errorf("outcome: unknown status %q", status)
	}
}
