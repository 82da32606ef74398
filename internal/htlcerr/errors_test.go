package htlcerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesCode(t *testing.T) {
	err := New(CodeNotYetExpired, "wait")
	wrapped := fmt.Errorf("reclaim: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotYetExpired))
	assert.False(t, errors.Is(wrapped, ErrExpired))
}

func TestError_Kinds(t *testing.T) {
	tests := []struct {
		code Code
		pred func(error) bool
	}{
		{CodeInvalidAmount, IsValidation},
		{CodeUnknownSelector, IsValidation},
		{CodePermissionDenied, IsPermission},
		{CodeHtlcNotFound, IsState},
		{CodeExpired, IsState},
		{CodePreimageMismatch, IsCrypto},
		{CodeNetwork, IsNetwork},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("outer: %w", New(tt.code, "x"))
			assert.True(t, tt.pred(err))
		})
	}

	assert.False(t, IsNetwork(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	id := common.HexToHash("0x01")
	cause := errors.New("connection refused")

	err := Network(cause, "get frontier momentum").WithID(id)

	assert.Equal(t, KindNetwork, err.Kind)
	assert.Contains(t, err.Error(), "NETWORK: get frontier momentum")
	assert.Contains(t, err.Error(), id.Hex())
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestNotYetExpired(t *testing.T) {
	id := common.HexToHash("0xabc")
	err := NotYetExpired(id, 90*time.Second)

	e, ok := As(fmt.Errorf("wrap: %w", err))
	require.True(t, ok)
	assert.Equal(t, CodeNotYetExpired, e.Code)
	assert.Equal(t, KindState, e.Kind)
	assert.Equal(t, 90*time.Second, e.Remaining)
	assert.Equal(t, id, e.ID)
}

func TestNetwork_DoesNotDoubleWrap(t *testing.T) {
	inner := Network(errors.New("timeout"), "ledger_getFrontierMomentum")
	outer := Network(fmt.Errorf("query: %w", inner), "get frontier momentum")

	assert.Same(t, inner, outer)
	assert.Equal(t, 1, strings.Count(outer.Error(), "NETWORK"))
}
