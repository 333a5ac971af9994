// Package effect defines the closed effect vocabulary executed by the core.
//
// An Effect is an immutable description of one operation: a typed payload,
// the resources it touches, the capabilities it requires, an optional
// temporal context and a single-use Continuation that transforms the
// handler's outcome into the caller-visible result.
//
// The set of effect kinds is fixed. Effect is a sealed interface and every
// switch over it ends in a panicking default, so adding a variant is a
// compile-and-review change rather than a runtime registration.
//
// Effects are content addressed: ID hashes the kind, payload, resources,
// capabilities, continuation identity and temporal context with
// internal/ir's canonical encoding, so equal effects share one identity.
package effect
