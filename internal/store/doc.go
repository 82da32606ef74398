// Package store provides the SQLite journal behind `htlc monitor --journal`.
//
// The journal records:
//   - Runs: one row per monitor invocation
//   - Tracked HTLCs: the latest state of every HTLC a run tracked
//   - Outcomes: an append-only log of monitor events (unlocked, reclaimed, error)
//
// # Ordering
//
// Rows are ordered by the monitor's logical seq, never by timestamps, so a
// resumed run continues the same sequence (see MaxSeq). Queries always sort
// by seq ASC with a binary tiebreak.
//
// # Idempotency
//
// Outcomes are keyed by seq and written with ON CONFLICT DO NOTHING.
// Transitions upsert on htlc_id and never move a row back to an older seq.
//
// # Opening
//
// Open creates the schema in an empty file and stamps PRAGMA user_version.
// It refuses files that hold other tables, journals written by a newer
// build, and journals missing any of the three tables. The connection runs
// in WAL mode with foreign keys on, so `htlc history` can read while a
// monitor writes.
package store
