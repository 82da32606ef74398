// Package monitor implements the HTLC reconciliation engine.
//
// A Monitor tracks a set of HTLC ids and drives each to a terminal state:
// it reclaims expired entries the local party can reclaim, and it watches
// the ledger for counterparty Unlock and Reclaim calls on the rest.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// All per-entry state lives in a map owned by the Run goroutine. Nothing
// else reads or writes it. Other goroutines talk to the loop through two
// mutex-guarded queues:
//   - the pending block queue, filled by the ledger subscription callback
//   - the track inbox, filled by Track()
//
// Reconciliation Cycle (repeated every interval):
//  1. Check cancellation
//  2. Load newly tracked entries from the ledger
//  3. Read the frontier momentum; its timestamp is "now"
//  4. Reclaim expired entries owned by the local party, or mark them
//     waiting for the counterparty
//  5. Drain the pending block queue in arrival order
//  6. Give up on vanished entries whose resolving call never settled
//
// The loop returns once no entry is active, waiting or vanished.
//
// Per-entry state: Active -> Waiting -> Resolved, or Active -> Resolved.
// An entry the contract no longer holds when the loop reclaims it goes
// Active -> Vanished -> Resolved: the Unlock or Reclaim that removed it is
// matched if it settles within the settle retry window, otherwise the entry
// resolves with HTLC_NOT_FOUND. A settled Reclaim resolves an entry in any
// live state. Resolved entries leave the map; the outcome stream reports why.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every event and journal row is stamped with a monotonic seq from Clock.
// Wall time is only used to pace reclaim retries.
//
// Settlement Guard:
// A call is only acted on once it is confirmed, received by the contract,
// and the receive has produced a settlement block paying the expected party.
package monitor
