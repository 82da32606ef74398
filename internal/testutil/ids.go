package testutil

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/signer"
)

// Fixed private keys for deterministic identities in tests.
const (
	AliceKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	BobKey   = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
	CarolKey = "49a7b37aa6f6645917e7b807e9d1c00d4fa71f18343b0d4122a4d2df64dd6fee"
)

// Signer returns the signer for one of the fixed keys. Panics on a bad key.
func Signer(key string) *signer.KeySigner {
	s, err := signer.FromHex(key)
	if err != nil {
		panic(err)
	}
	return s
}

// Addr returns a user address whose bytes are all n, except the class byte.
func Addr(n byte) ledger.Address {
	var a common.Address
	for i := range a {
		a[i] = n
	}
	a[0] = ledger.UserAddressByte
	return a
}

// Hash returns a hash whose bytes are all n.
func Hash(n byte) ledger.Hash {
	var h common.Hash
	for i := range h {
		h[i] = n
	}
	return h
}
