package cli

import (
	"fmt"

	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/ledger"
)

// ReceiptResult is the output of commands that submit one operation.
type ReceiptResult struct {
	Operation string `json:"operation"`
	ID        string `json:"id,omitempty"`
	BlockHash string `json:"block_hash"`
	RequestID string `json:"request_id,omitempty"`
}

func (r ReceiptResult) String() string {
	if r.ID == "" {
		return fmt.Sprintf("%s submitted in block %s", r.Operation, r.BlockHash)
	}
	return fmt.Sprintf("%s submitted for %s in block %s", r.Operation, r.ID, r.BlockHash)
}

func newReceiptResult(operation string, id ledger.Hash, rc *htlc.Receipt) ReceiptResult {
	out := ReceiptResult{
		Operation: operation,
		BlockHash: rc.Block.Hash.Hex(),
		RequestID: rc.Operation.RequestID,
	}
	if id != (ledger.Hash{}) {
		out.ID = id.Hex()
	}
	return out
}
