package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/htlc/internal/ledger"
)

// ReadOutcomes returns outcomes in seq order. A zero id returns every
// outcome in the journal.
func (s *Store) ReadOutcomes(ctx context.Context, id ledger.Hash) ([]Outcome, error) {
	query := `
		SELECT seq, run_id, htlc_id, outcome, preimage, block_hash, error, terminal
		FROM outcomes
	`
	var args []any
	if id != (ledger.Hash{}) {
		query += ` WHERE htlc_id = ?`
		args = append(args, id.Hex())
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o         Outcome
			htlcID    string
			blockHash sql.NullString
			errText   sql.NullString
			terminal  int
		)
		if err := rows.Scan(&o.Seq, &o.RunID, &htlcID, &o.Outcome, &o.Preimage, &blockHash, &errText, &terminal); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.HtlcID = common.HexToHash(htlcID)
		if blockHash.Valid {
			o.BlockHash = common.HexToHash(blockHash.String)
		}
		o.Error = errText.String
		o.Terminal = terminal != 0
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read outcomes: %w", err)
	}
	return out, nil
}

// ReadUnresolved returns every HTLC whose latest state is not resolved,
// in seq order. Used by `htlc monitor --resume`.
func (s *Store) ReadUnresolved(ctx context.Context) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT htlc_id, run_id, state, time_locked, hash_locked, expiration_time, seq
		FROM tracked_htlcs
		WHERE state != 'resolved'
		ORDER BY seq ASC, htlc_id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("read unresolved: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var htlcID, timeLocked, hashLocked string
		if err := rows.Scan(&htlcID, &tr.RunID, &tr.State, &timeLocked, &hashLocked, &tr.ExpirationTime, &tr.Seq); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.HtlcID = common.HexToHash(htlcID)
		tr.TimeLocked = common.HexToAddress(timeLocked)
		tr.HashLocked = common.HexToAddress(hashLocked)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read unresolved: %w", err)
	}
	return out, nil
}

// MaxSeq returns the highest seq recorded anywhere in the journal, or 0.
// A resumed monitor starts its clock here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(m) FROM (
			SELECT COALESCE(MAX(seq), 0) AS m FROM outcomes
			UNION ALL
			SELECT COALESCE(MAX(seq), 0) FROM tracked_htlcs
			UNION ALL
			SELECT COALESCE(MAX(start_seq), 0) FROM monitor_runs
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}
