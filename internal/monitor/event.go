package monitor

import (
	"github.com/roach88/htlc/internal/ledger"
)

// Outcome classifies an Event.
type Outcome string

const (
	OutcomeUnlocked  Outcome = "unlocked"
	OutcomeReclaimed Outcome = "reclaimed"
	OutcomeError     Outcome = "error"
)

// Event is one entry in the monitor's outcome stream.
type Event struct {
	// Seq is the logical clock value; strictly increasing per monitor.
	Seq int64

	ID      ledger.Hash
	Outcome Outcome

	// Preimage is the revealed secret for OutcomeUnlocked.
	Preimage []byte

	// BlockHash is the Unlock or Reclaim call that resolved the entry.
	// Zero for errors.
	BlockHash ledger.Hash

	// Err is set for OutcomeError.
	Err error

	// Terminal reports that the entry is no longer tracked. Unlocked and
	// Reclaimed events are always terminal; errors may be transient.
	Terminal bool
}

func (e Event) errString() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
