// Package signer signs operation requests with a secp256k1 key.
package signer

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/htlc/internal/ledger"
)

// ErrBadSignature is returned when a signature does not recover to the
// operation's address.
var ErrBadSignature = errors.New("signature does not match operation address")

// Signer identifies the local party and signs its operations.
type Signer interface {
	Address() ledger.Address
	Sign(op *ledger.Operation) error
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr ledger.Address
}

// New wraps an existing private key.
func New(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, addr: userAddress(&key.PublicKey)}
}

// FromHex parses a hex private key (optional 0x prefix).
func FromHex(s string) (*KeySigner, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return New(key), nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return New(key), nil
}

// Address returns the user address of the key.
func (s *KeySigner) Address() ledger.Address {
	return s.addr
}

// Sign fills in PublicKey and Signature over op.Hash().
// op.Address is set to the signer's address first.
func (s *KeySigner) Sign(op *ledger.Operation) error {
	op.Address = s.addr
	h, err := op.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(h.Bytes(), s.key)
	if err != nil {
		return fmt.Errorf("sign operation: %w", err)
	}
	op.PublicKey = crypto.FromECDSAPub(&s.key.PublicKey)
	op.Signature = sig
	return nil
}

// Verify checks that op.Signature recovers to op.PublicKey and that the key
// derives op.Address.
func Verify(op *ledger.Operation) error {
	if !op.Signed() {
		return ErrBadSignature
	}
	h, err := op.Hash()
	if err != nil {
		return err
	}
	pub, err := crypto.SigToPub(h.Bytes(), op.Signature)
	if err != nil {
		return fmt.Errorf("recover public key: %w", err)
	}
	if !bytes.Equal(crypto.FromECDSAPub(pub), op.PublicKey) {
		return ErrBadSignature
	}
	if userAddress(pub) != op.Address {
		return ErrBadSignature
	}
	return nil
}

// userAddress derives a user-class address: the Keccak256 key address with
// its first byte replaced by the user class byte.
func userAddress(pub *ecdsa.PublicKey) ledger.Address {
	addr := crypto.PubkeyToAddress(*pub)
	addr[0] = ledger.UserAddressByte
	return addr
}
