package contract

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlcerr"
)

func TestSelectors(t *testing.T) {
	for _, name := range []string{MethodCreate, MethodReclaim, MethodUnlock, MethodAllowProxyUnlock, MethodDenyProxyUnlock} {
		t.Run(name, func(t *testing.T) {
			sel, err := Selector(name)
			require.NoError(t, err)
			want := crypto.Keccak256([]byte(Signature(name)))[:4]
			assert.Equal(t, want, sel)
		})
	}

	assert.Equal(t, "Create(address,int64,uint8,uint8,bytes)", Signature(MethodCreate))
	assert.Equal(t, "Unlock(bytes32,bytes)", Signature(MethodUnlock))

	_, err := Selector("Burn")
	assert.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	lock, err := hashlock.Digest([]byte("preimage"), hashlock.Sha3_256)
	require.NoError(t, err)

	id := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

	calls := []Call{
		CreateCall{
			HashLocked:     common.HexToAddress("0x0022222222222222222222222222222222222222"),
			ExpirationTime: 1_700_003_600,
			HashType:       hashlock.Sha3_256,
			KeyMaxSize:     32,
			HashLock:       lock.Bytes(),
		},
		ReclaimCall{ID: id},
		UnlockCall{ID: id, Preimage: []byte("preimage")},
		AllowProxyUnlockCall{},
		DenyProxyUnlockCall{},
	}

	for _, c := range calls {
		t.Run(c.Method(), func(t *testing.T) {
			data, err := c.Encode()
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, c, got)
		})
	}
}

func TestCreateCall_Lock(t *testing.T) {
	lock, err := hashlock.Digest([]byte("x"), hashlock.Sha2_256)
	require.NoError(t, err)

	c := CreateCall{HashType: hashlock.Sha2_256, HashLock: lock.Bytes()}
	got, err := c.Lock()
	require.NoError(t, err)
	assert.Equal(t, lock, got)

	c.HashLock = []byte{1, 2}
	_, err = c.Lock()
	assert.True(t, errors.Is(err, htlcerr.ErrInvalidHashLock))
}

func TestDecode_UnknownSelector(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: []byte{0x01, 0x02, 0x03}},
		{name: "foreign selector", data: []byte{0xde, 0xad, 0xbe, 0xef, 0x00}},
		{name: "erc20 transfer", data: append(crypto.Keccak256([]byte("transfer(address,uint256)"))[:4], make([]byte, 64)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var call Call
			var err error
			require.NotPanics(t, func() { call, err = Decode(tt.data) })
			assert.Nil(t, call)
			assert.True(t, errors.Is(err, htlcerr.ErrUnknownSelector), "got %v", err)
		})
	}
}

func TestDecode_ArgumentCountMismatch(t *testing.T) {
	reclaim, err := Selector(MethodReclaim)
	require.NoError(t, err)
	unlock, err := Selector(MethodUnlock)
	require.NoError(t, err)
	allow, err := Selector(MethodAllowProxyUnlock)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "reclaim without id", data: reclaim},
		{name: "reclaim truncated id", data: append(append([]byte(nil), reclaim...), make([]byte, 16)...)},
		{name: "reclaim extra argument", data: append(append([]byte(nil), reclaim...), make([]byte, 64)...)},
		{name: "unlock without preimage", data: append(append([]byte(nil), unlock...), make([]byte, 32)...)},
		{name: "allow proxy with argument", data: append(append([]byte(nil), allow...), make([]byte, 32)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var call Call
			var err error
			require.NotPanics(t, func() { call, err = Decode(tt.data) })
			assert.Nil(t, call)
			assert.True(t, errors.Is(err, htlcerr.ErrArgumentCountMismatch), "got %v", err)
			assert.True(t, htlcerr.IsValidation(err))
		})
	}
}
