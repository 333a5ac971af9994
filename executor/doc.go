// Package executor runs effects.
//
// Execute takes an effect through a fixed sequence of phases:
//
//	Submitted → CapabilityChecked → ResourcesAcquiring → HandlerExecuting
//	  → ContinuationApplying → Logged → ResourcesReleased
//
// Capabilities are checked and the host's temporal validator consulted
// before any lock is taken. Resources are acquired one at a time in
// canonical order, the handler runs against a staged view of their state,
// the continuation transforms a successful outcome, the staged writes are
// committed and the record appended, and finally the guards are released in
// reverse order. Any failure moves the execution to Failed after releasing
// whatever it held; a panicking handler is no exception.
//
// Handler failures are outcomes, not errors: they come back in
// Result.Outcome and are still logged, with no state change. Go errors are
// reserved for the executor itself failing to run the effect: missing
// capabilities, lock acquisition, a reused continuation, a handler panic, or
// a log append that did not persist.
//
// A handler may run further effects through its Env. They execute under
// the same task, reuse any guard the task already holds, and are logged
// one level deeper than their parent. New resources they need must sort
// after everything the task holds, or the call fails with
// *OrderViolationError rather than risk a deadlock.
//
// A nested effect and its caller form one unit. The nested writes are
// visible to the caller as soon as Env.Nested returns, but they reach the
// store, and the nested records the log, only when the top-level effect is
// logged; its guards stay with the task until then. A caller whose outcome
// is a failure keeps none of its nested writes, and a caller that aborts
// leaves neither writes nor records. A nested effect refused before its
// handler ran is logged as a rejected outcome and reported to the handler
// as *handler.RejectedError.
package executor
