// Package harness runs effect scenarios end to end and checks the trace
// they leave in the execution log.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: ledger_basics
//	description: "What this scenario validates"
//	task: task-1
//	initial:
//	  a: 100
//	  b: 0
//	steps:
//	  - effect: Deposit
//	    args: { account: a, amount: 50 }
//	    expect:
//	      status: success
//	      value: { balance: 150 }
//	  - effect: Withdraw
//	    args: { account: b, amount: 500 }
//	    expect: { status: failure, error: InsufficientFunds }
//	assertions:
//	  - type: trace_count
//	    kind: Deposit
//	    count: 1
//	  - type: final_state
//	    resource: a
//	    expect: 150
//	  - type: replay
//
// Step args are the effect's canonical payload, as stored in execution
// records. Capabilities default to exactly what the steps require.
//
// # Assertion Types
//
//   - trace_contains: a record of kind (optionally touching resource) exists
//   - trace_order: kinds first appear in the given order
//   - trace_count: kind appears exactly count times, nested records included
//   - final_state: resource holds expect (subset match for objects)
//   - replay: the log verifies and replays from the initial state without
//     mismatches
//
// # Deterministic Testing
//
// Records carry no wall-clock data. With fixed task ids (testutil.FixedTask
// by default) the same scenario always produces byte-identical records,
// which RunWithGolden compares against testdata/golden/<name>.golden.
package harness
