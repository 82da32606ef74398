package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Operation is a signed request for the submission layer to publish.
//
// The HTLC core never publishes on its own: it builds an Operation, has it
// signed and hands it to a Submitter.
type Operation struct {
	// RequestID is a client-side UUIDv7 used for log correlation.
	RequestID string

	Address        Address
	ToAddress      Address
	TokenStandard  TokenStandard
	Amount         *big.Int
	Data           []byte
	MomentumHeight uint64

	PublicKey []byte
	Signature []byte
}

// unsignedOperation is the RLP layout hashed for signing.
// RLP only encodes unsigned integers, so every numeric field is uint64 or *big.Int.
type unsignedOperation struct {
	Address        common.Address
	ToAddress      common.Address
	TokenStandard  string
	Amount         *big.Int
	Data           []byte
	MomentumHeight uint64
}

// Hash returns Keccak256 over the RLP encoding of the unsigned fields.
// The id of an HTLC is the hash of the operation that created it.
func (op *Operation) Hash() (Hash, error) {
	amount := op.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 {
		return Hash{}, fmt.Errorf("operation amount is negative")
	}
	enc, err := rlp.EncodeToBytes(&unsignedOperation{
		Address:        op.Address,
		ToAddress:      op.ToAddress,
		TokenStandard:  string(op.TokenStandard),
		Amount:         amount,
		Data:           op.Data,
		MomentumHeight: op.MomentumHeight,
	})
	if err != nil {
		return Hash{}, fmt.Errorf("encode operation: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Signed reports whether the operation carries a signature.
func (op *Operation) Signed() bool {
	return len(op.Signature) > 0 && len(op.PublicKey) > 0
}
