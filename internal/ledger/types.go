// Package ledger defines the ledger data model consumed by the HTLC core and
// the collaborator interfaces through which it queries, subscribes and submits.
//
// Nothing in this package talks to a network. Concrete implementations live
// in rpcnode (JSON-RPC) and testutil (in-memory).
package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte ledger address. The first byte is the address class.
type Address = common.Address

// Hash is a 32-byte block, operation or HTLC identifier.
type Hash = common.Hash

// Address classes.
const (
	UserAddressByte     byte = 0x00
	EmbeddedAddressByte byte = 0x01
)

// HtlcContractAddress is the embedded HTLC contract.
var HtlcContractAddress = common.HexToAddress("0x0100000000000000000000000000000000000008")

// IsEmbedded reports whether addr belongs to an embedded contract.
func IsEmbedded(addr Address) bool {
	return addr[0] == EmbeddedAddressByte
}

// IsZero reports whether addr is the empty address.
func IsZero(addr Address) bool {
	return addr == Address{}
}

// TokenStandard identifies a token on the ledger.
type TokenStandard string

// TokenInfo is display metadata for a token standard.
type TokenInfo struct {
	Standard TokenStandard
	Symbol   string
	Name     string
	Decimals uint8
}

// BlockType classifies account blocks.
type BlockType uint64

const (
	BlockTypeGenesisReceive  BlockType = 1
	BlockTypeUserSend        BlockType = 2
	BlockTypeUserReceive     BlockType = 3
	BlockTypeContractSend    BlockType = 4
	BlockTypeContractReceive BlockType = 5
)

// String returns a readable block type name.
func (t BlockType) String() string {
	switch t {
	case BlockTypeGenesisReceive:
		return "genesis-receive"
	case BlockTypeUserSend:
		return "user-send"
	case BlockTypeUserReceive:
		return "user-receive"
	case BlockTypeContractSend:
		return "contract-send"
	case BlockTypeContractReceive:
		return "contract-receive"
	default:
		return "unknown"
	}
}

// Confirmation records the momentum that finalized a block.
type Confirmation struct {
	MomentumHeight uint64
	MomentumHash   Hash
}

// AccountBlock is a ledger block as returned by the node.
//
// For a user send to an embedded contract, Paired is the contract's receive
// block and Descendants of the paired block are the contract sends it caused
// (the settlement blocks that actually move funds).
type AccountBlock struct {
	Hash          Hash
	BlockType     BlockType
	Height        uint64
	Address       Address
	ToAddress     Address
	Amount        *big.Int
	TokenStandard TokenStandard
	Data          []byte
	FromBlockHash Hash
	Confirmation  *Confirmation
	Paired        *AccountBlock
	Descendants   []*AccountBlock
}

// Confirmed reports whether the block is included in a momentum.
func (b *AccountBlock) Confirmed() bool {
	return b != nil && b.Confirmation != nil
}

// Settled reports whether a user send has been received by its target and
// the receive produced at least one descendant block.
func (b *AccountBlock) Settled() bool {
	if !b.Confirmed() || b.BlockType != BlockTypeUserSend {
		return false
	}
	return b.Paired != nil && len(b.Paired.Descendants) > 0
}

// Settlements returns the descendant blocks of the paired receive.
func (b *AccountBlock) Settlements() []*AccountBlock {
	if b == nil || b.Paired == nil {
		return nil
	}
	return b.Paired.Descendants
}

// Momentum is a finalized ledger checkpoint.
type Momentum struct {
	Height    uint64
	Hash      Hash
	Timestamp int64 // unix seconds
}

// Time returns the momentum timestamp.
func (m Momentum) Time() time.Time {
	return time.Unix(m.Timestamp, 0).UTC()
}

// BlockEvent is one notification from the account block subscription.
type BlockEvent struct {
	ToAddress Address
	Hash      Hash
}
