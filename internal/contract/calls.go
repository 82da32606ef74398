package contract

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlcerr"
)

// Call is a typed HTLC contract call.
type Call interface {
	// Method returns the ABI method name.
	Method() string
	// Encode returns the selector plus ABI-encoded arguments.
	Encode() ([]byte, error)
}

// CreateCall locks funds under a hash lock until ExpirationTime.
type CreateCall struct {
	HashLocked     common.Address
	ExpirationTime int64
	HashType       hashlock.HashType
	KeyMaxSize     uint8
	HashLock       []byte
}

func (CreateCall) Method() string { return MethodCreate }

func (c CreateCall) Encode() ([]byte, error) {
	return ABI.Pack(MethodCreate, c.HashLocked, c.ExpirationTime, uint8(c.HashType), c.KeyMaxSize, c.HashLock)
}

// Lock returns the committed hash lock.
func (c CreateCall) Lock() (hashlock.HashLock, error) {
	return hashlock.FromBytes(c.HashLock, c.HashType)
}

// ReclaimCall returns an expired entry's funds to its timeLocked address.
type ReclaimCall struct {
	ID common.Hash
}

func (ReclaimCall) Method() string { return MethodReclaim }

func (c ReclaimCall) Encode() ([]byte, error) {
	return ABI.Pack(MethodReclaim, [32]byte(c.ID))
}

// UnlockCall releases an entry's funds to its hashLocked address.
type UnlockCall struct {
	ID       common.Hash
	Preimage []byte
}

func (UnlockCall) Method() string { return MethodUnlock }

func (c UnlockCall) Encode() ([]byte, error) {
	return ABI.Pack(MethodUnlock, [32]byte(c.ID), c.Preimage)
}

// AllowProxyUnlockCall lets anyone unlock on behalf of the caller.
type AllowProxyUnlockCall struct{}

func (AllowProxyUnlockCall) Method() string { return MethodAllowProxyUnlock }

func (AllowProxyUnlockCall) Encode() ([]byte, error) {
	return ABI.Pack(MethodAllowProxyUnlock)
}

// DenyProxyUnlockCall revokes proxy unlock for the caller.
type DenyProxyUnlockCall struct{}

func (DenyProxyUnlockCall) Method() string { return MethodDenyProxyUnlock }

func (DenyProxyUnlockCall) Encode() ([]byte, error) {
	return ABI.Pack(MethodDenyProxyUnlock)
}

// Decode matches the selector of data against the HTLC methods and decodes
// its arguments into a typed Call.
//
// A payload shorter than a selector, or whose selector matches nothing, fails
// with UNKNOWN_SELECTOR. A payload whose arguments do not fit the matched
// method fails with ARGUMENT_COUNT_MISMATCH.
func Decode(data []byte) (call Call, err error) {
	if len(data) < 4 {
		return nil, htlcerr.New(htlcerr.CodeUnknownSelector, "payload is %d bytes, shorter than a selector", len(data))
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return nil, htlcerr.New(htlcerr.CodeUnknownSelector, "selector %x matches no htlc method", data[:4])
	}

	// Hostile payloads must surface as errors, not crashes.
	defer func() {
		if r := recover(); r != nil {
			call = nil
			err = mismatch(method.Name, fmt.Errorf("%v", r))
		}
	}()

	args := data[4:]
	if static(method.Inputs) && len(args) != 32*len(method.Inputs) {
		return nil, mismatch(method.Name, fmt.Errorf("expected %d argument words, payload has %d bytes",
			len(method.Inputs), len(args)))
	}

	values, err := method.Inputs.Unpack(args)
	if err != nil {
		return nil, mismatch(method.Name, err)
	}
	if len(values) != len(method.Inputs) {
		return nil, mismatch(method.Name, fmt.Errorf("decoded %d arguments, expected %d", len(values), len(method.Inputs)))
	}

	switch method.Name {
	case MethodCreate:
		hashLocked, ok1 := values[0].(common.Address)
		expiration, ok2 := values[1].(int64)
		hashType, ok3 := values[2].(uint8)
		keyMaxSize, ok4 := values[3].(uint8)
		lock, ok5 := values[4].([]byte)
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			return nil, mismatch(method.Name, fmt.Errorf("argument types do not match"))
		}
		return CreateCall{
			HashLocked:     hashLocked,
			ExpirationTime: expiration,
			HashType:       hashlock.HashType(hashType),
			KeyMaxSize:     keyMaxSize,
			HashLock:       lock,
		}, nil

	case MethodReclaim:
		id, ok := values[0].([32]byte)
		if !ok {
			return nil, mismatch(method.Name, fmt.Errorf("argument types do not match"))
		}
		return ReclaimCall{ID: common.Hash(id)}, nil

	case MethodUnlock:
		id, ok1 := values[0].([32]byte)
		preimage, ok2 := values[1].([]byte)
		if !(ok1 && ok2) {
			return nil, mismatch(method.Name, fmt.Errorf("argument types do not match"))
		}
		return UnlockCall{ID: common.Hash(id), Preimage: preimage}, nil

	case MethodAllowProxyUnlock:
		return AllowProxyUnlockCall{}, nil

	case MethodDenyProxyUnlock:
		return DenyProxyUnlockCall{}, nil
	}

	return nil, htlcerr.New(htlcerr.CodeUnknownSelector, "method %s is not handled", method.Name)
}

func mismatch(method string, err error) error {
	return htlcerr.Wrap(htlcerr.CodeArgumentCountMismatch, err, "%s arguments do not match the abi", method)
}

// static reports whether every input has a fixed-size encoding, in which
// case the payload length is fully determined by the argument count.
func static(args abi.Arguments) bool {
	for _, a := range args {
		switch a.Type.T {
		case abi.BytesTy, abi.StringTy, abi.SliceTy:
			return false
		}
	}
	return true
}
