// Package inspect decodes on-ledger HTLC contract calls for display and
// verification.
package inspect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/tokens"
)

// Status is how far a call has progressed on the ledger.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusSettled   Status = "settled"
)

// Report describes one HTLC contract call.
type Report struct {
	BlockHash ledger.Hash
	Caller    ledger.Address
	ToAddress ledger.Address
	Amount    *big.Int
	Token     ledger.TokenStandard
	TokenInfo *ledger.TokenInfo // nil when metadata is unavailable
	Status    Status
	Call      contract.Call
}

// Inspector fetches blocks and decodes their contract payloads.
type Inspector struct {
	blocks   ledger.BlockSource
	tokens   *tokens.Cache
	contract ledger.Address
	logger   *slog.Logger
}

// New creates an Inspector for calls sent to contractAddr. tokenCache may
// be nil, in which case reports carry no token metadata.
func New(blocks ledger.BlockSource, tokenCache *tokens.Cache, contractAddr ledger.Address, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{blocks: blocks, tokens: tokenCache, contract: contractAddr, logger: logger}
}

// Inspect fetches the block by hash and decodes it as an HTLC call.
func (i *Inspector) Inspect(ctx context.Context, hash ledger.Hash) (*Report, error) {
	block, err := i.blocks.GetAccountBlockByHash(ctx, hash)
	if err != nil {
		return nil, htlcerr.Network(err, "get account block")
	}
	if block == nil {
		return nil, htlcerr.New(htlcerr.CodeBlockNotFound, "block %s not found", hash.Hex())
	}
	return i.InspectBlock(ctx, block)
}

// InspectBlock decodes an already fetched block.
func (i *Inspector) InspectBlock(ctx context.Context, block *ledger.AccountBlock) (*Report, error) {
	if block.BlockType != ledger.BlockTypeUserSend || block.ToAddress != i.contract {
		return nil, htlcerr.New(htlcerr.CodeNotHtlcCall, "block %s is a %s to %s, not a call to the htlc contract",
			block.Hash.Hex(), block.BlockType, block.ToAddress.Hex())
	}
	call, err := contract.Decode(block.Data)
	if err != nil {
		return nil, err
	}

	r := &Report{
		BlockHash: block.Hash,
		Caller:    block.Address,
		ToAddress: block.ToAddress,
		Amount:    block.Amount,
		Token:     block.TokenStandard,
		Status:    statusOf(block),
		Call:      call,
	}
	if r.Amount == nil {
		r.Amount = new(big.Int)
	}
	if i.tokens != nil {
		info, err := i.tokens.Get(ctx, block.TokenStandard)
		if err != nil {
			i.logger.Debug("token metadata unavailable", "standard", string(block.TokenStandard), "error", err)
		}
		r.TokenInfo = info
	}
	return r, nil
}

func statusOf(b *ledger.AccountBlock) Status {
	switch {
	case b.Settled():
		return StatusSettled
	case b.Confirmed():
		return StatusConfirmed
	default:
		return StatusPending
	}
}

// Describe writes a human-readable rendering of r.
func Describe(w io.Writer, r *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "block:     %s\n", r.BlockHash.Hex())
	fmt.Fprintf(&b, "status:    %s\n", r.Status)
	fmt.Fprintf(&b, "caller:    %s\n", r.Caller.Hex())
	fmt.Fprintf(&b, "contract:  %s\n", r.ToAddress.Hex())
	fmt.Fprintf(&b, "amount:    %s\n", tokens.Describe(r.Amount, r.Token, r.TokenInfo))
	fmt.Fprintf(&b, "call:      %s\n", contract.Signature(r.Call.Method()))

	switch c := r.Call.(type) {
	case contract.CreateCall:
		fmt.Fprintf(&b, "  hash locked:  %s\n", c.HashLocked.Hex())
		fmt.Fprintf(&b, "  expiration:   %d (%s)\n", c.ExpirationTime,
			time.Unix(c.ExpirationTime, 0).UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "  hash type:    %s\n", c.HashType)
		fmt.Fprintf(&b, "  key max size: %d\n", c.KeyMaxSize)
		fmt.Fprintf(&b, "  hash lock:    0x%x\n", c.HashLock)
	case contract.ReclaimCall:
		fmt.Fprintf(&b, "  id:           %s\n", c.ID.Hex())
	case contract.UnlockCall:
		fmt.Fprintf(&b, "  id:           %s\n", c.ID.Hex())
		fmt.Fprintf(&b, "  preimage:     0x%x\n", c.Preimage)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
