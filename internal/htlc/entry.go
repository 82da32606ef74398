// Package htlc implements the HTLC entity model and its lifecycle
// operations: Create, Reclaim, Unlock and the proxy-unlock permission calls.
//
// Every operation validates locally first, then consults the ledger, then
// builds a contract call, signs it and hands it to the submission layer.
// Operations fail fast: nothing here retries.
package htlc

import (
	"math/big"
	"time"

	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/ledger"
)

// Entry is an escrow record held by the HTLC contract.
//
// Amount and HashLock are fixed at creation. Once the entry is unlocked or
// reclaimed the contract drops it, so a resolved entry is simply absent.
type Entry struct {
	ID             ledger.Hash
	TimeLocked     ledger.Address
	HashLocked     ledger.Address
	TokenStandard  ledger.TokenStandard
	Amount         *big.Int
	ExpirationTime int64 // unix seconds
	HashLock       hashlock.HashLock
	KeyMaxSize     uint8
}

// Expired reports whether only the timeLocked party may act on the entry.
// now is a ledger timestamp in unix seconds.
func (e *Entry) Expired(now int64) bool {
	return now >= e.ExpirationTime
}

// Remaining returns the time left until expiration, zero once expired.
func (e *Entry) Remaining(now int64) time.Duration {
	if e.Expired(now) {
		return 0
	}
	return time.Duration(e.ExpirationTime-now) * time.Second
}

// Expiration returns ExpirationTime as a time.Time.
func (e *Entry) Expiration() time.Time {
	return time.Unix(e.ExpirationTime, 0).UTC()
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Amount != nil {
		c.Amount = new(big.Int).Set(e.Amount)
	}
	return &c
}
