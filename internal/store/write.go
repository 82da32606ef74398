package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/htlc/internal/ledger"
)

// WriteRun inserts a run record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_runs (id, local_address, contract_address, start_seq, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.LocalAddress.Hex(),
		run.ContractAddress.Hex(),
		run.StartSeq,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteTransition records the state of an HTLC.
//
// The row is upserted on htlc_id. A transition with a lower seq than the
// stored one is ignored, so replays cannot move an HTLC backwards.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteTransition(ctx context.Context, tr Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_htlcs (htlc_id, run_id, state, time_locked, hash_locked, expiration_time, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(htlc_id) DO UPDATE SET
			run_id = excluded.run_id,
			state = excluded.state,
			time_locked = excluded.time_locked,
			hash_locked = excluded.hash_locked,
			expiration_time = excluded.expiration_time,
			seq = excluded.seq
		WHERE excluded.seq >= tracked_htlcs.seq
	`,
		tr.HtlcID.Hex(),
		tr.RunID,
		tr.State,
		tr.TimeLocked.Hex(),
		tr.HashLocked.Hex(),
		tr.ExpirationTime,
		tr.Seq,
	)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// WriteOutcome appends an outcome.
// Uses ON CONFLICT(seq) DO NOTHING: rewriting the same seq is a no-op.
func (s *Store) WriteOutcome(ctx context.Context, o Outcome) error {
	var blockHash sql.NullString
	if o.BlockHash != (ledger.Hash{}) {
		blockHash = sql.NullString{String: o.BlockHash.Hex(), Valid: true}
	}
	var preimage any
	if len(o.Preimage) > 0 {
		preimage = o.Preimage
	}
	var errText sql.NullString
	if o.Error != "" {
		errText = sql.NullString{String: o.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (seq, run_id, htlc_id, outcome, preimage, block_hash, error, terminal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		o.Seq,
		o.RunID,
		o.HtlcID.Hex(),
		o.Outcome,
		preimage,
		blockHash,
		errText,
		boolToInt(o.Terminal),
	)
	if err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
