// Package contract encodes and decodes calls to the embedded HTLC contract.
//
// Call payloads use the standard contract ABI: a 4-byte selector (the leading
// bytes of the Keccak256 of the function signature) followed by positionally
// encoded arguments.
package contract

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names as they appear in the ABI.
const (
	MethodCreate           = "Create"
	MethodReclaim          = "Reclaim"
	MethodUnlock           = "Unlock"
	MethodDenyProxyUnlock  = "DenyProxyUnlock"
	MethodAllowProxyUnlock = "AllowProxyUnlock"
)

const htlcABIJSON = `[
	{"type":"function","name":"Create","inputs":[
		{"name":"hashLocked","type":"address"},
		{"name":"expirationTime","type":"int64"},
		{"name":"hashType","type":"uint8"},
		{"name":"keyMaxSize","type":"uint8"},
		{"name":"hashLock","type":"bytes"}
	]},
	{"type":"function","name":"Reclaim","inputs":[
		{"name":"id","type":"bytes32"}
	]},
	{"type":"function","name":"Unlock","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"preimage","type":"bytes"}
	]},
	{"type":"function","name":"DenyProxyUnlock","inputs":[]},
	{"type":"function","name":"AllowProxyUnlock","inputs":[]}
]`

// ABI is the parsed HTLC contract ABI.
var ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(htlcABIJSON))
	if err != nil {
		panic(fmt.Sprintf("contract: parse htlc abi: %v", err))
	}
	ABI = parsed
}

// Selector returns the 4-byte selector of a method.
func Selector(name string) ([]byte, error) {
	m, ok := ABI.Methods[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", name)
	}
	return append([]byte(nil), m.ID...), nil
}

// Signature returns the canonical signature, e.g. "Reclaim(bytes32)".
func Signature(name string) string {
	if m, ok := ABI.Methods[name]; ok {
		return m.Sig
	}
	return ""
}
