package store

import "github.com/roach88/htlc/internal/ledger"

// Run is one monitor invocation.
type Run struct {
	ID              string
	LocalAddress    ledger.Address
	ContractAddress ledger.Address
	StartSeq        int64
	StartedAt       int64 // unix seconds, informational only
}

// Transition is the latest recorded state of a tracked HTLC.
type Transition struct {
	HtlcID         ledger.Hash
	RunID          string
	State          string
	TimeLocked     ledger.Address
	HashLocked     ledger.Address
	ExpirationTime int64
	Seq            int64
}

// Outcome is one monitor event.
type Outcome struct {
	Seq       int64
	RunID     string
	HtlcID    ledger.Hash
	Outcome   string
	Preimage  []byte
	BlockHash ledger.Hash // zero when no block is involved
	Error     string
	Terminal  bool
}
