// Package harness runs HTLC lifecycle scenarios against an in-memory node.
//
// A scenario funds a fixed set of accounts, executes a flow of lifecycle
// operations as those accounts, and asserts on the resulting trace and the
// node's final state. Every step is executed for real: the htlc.Service
// signs and submits, the fake node applies the contract effect, and monitor
// steps run reconciliation cycles. Nothing is manufactured from the expect
// clauses, so a failing operation shows up as a different output case.
//
// # Scenario Format
//
//	name: reclaim_after_expiry
//	description: "The creator reclaims once the time lock passes"
//	now: 1700000000
//	accounts:
//	  alice: { znn: "10" }
//	  bob: {}
//	flow:
//	  - as: alice
//	    invoke: create
//	    save: h1
//	    args: { hash_locked: bob, amount: "1", duration: 2h, preimage: "0x0102" }
//	  - invoke: advance
//	    args: { seconds: 10800 }
//	  - as: alice
//	    invoke: reclaim
//	    args: { id: h1 }
//	    expect: { case: Success }
//	assertions:
//	  - type: trace_order
//	    actions: [create, advance, reclaim]
//	  - type: final_state
//	    htlc: h1
//	    expect: { exists: false }
//
// Accounts are alice, bob and carol, each backed by a fixed key. Balances
// are in display units of znn or qsr (8 decimals). An id saved by a create
// step is referenced by name in later steps and assertions, and appears by
// name in the trace so traces are stable across runs.
//
// # Actions
//
//   - create: hash_locked, amount, duration; optional token, preimage,
//     hash_type, hash_lock. A preimage is hashed into the lock.
//   - reclaim: id
//   - unlock: id, preimage
//   - allow_proxy_unlock, deny_proxy_unlock: no args
//   - advance: seconds; moves the frontier momentum forward
//   - fail_submit: times; the next submissions fail with a network error
//   - monitor: ids; optional cycles (default 1). Runs reconciliation cycles
//     as the acting account and reports each id's outcome.
//
// Quote hex values: YAML reads an unquoted 0x01 as the integer 1.
//
// An operation that returns an htlcerr.Error completes with its code as
// the output case (e.g. NOT_YET_EXPIRED). Other errors complete as Error.
//
// # Assertions
//
//   - trace_contains: action appears with the given args (subset match)
//   - trace_order: actions appear in order (not necessarily adjacent)
//   - trace_count: action appears exactly count times
//   - final_state: htlc (saved name) or account, with expected fields
//
// # Golden Files
//
// RunWithGolden compares the trace against testdata/golden/<name>.golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
