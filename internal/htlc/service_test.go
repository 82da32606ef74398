package htlc_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/testutil"
)

const now int64 = 1_700_000_000

var token = htlc.DefaultToken

type fixture struct {
	node  *testutil.FakeNode
	alice *htlc.Service
	bob   *htlc.Service
	carol *htlc.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node := testutil.NewFakeNode(now)
	f := &fixture{node: node}
	f.alice = newService(t, node, testutil.AliceKey, htlc.DefaultConfig())
	f.bob = newService(t, node, testutil.BobKey, htlc.DefaultConfig())
	f.carol = newService(t, node, testutil.CarolKey, htlc.DefaultConfig())
	node.SetBalance(f.alice.Address(), token, big.NewInt(1_000))
	return f
}

func newService(t *testing.T, node *testutil.FakeNode, key string, cfg htlc.Config) *htlc.Service {
	t.Helper()
	svc, err := htlc.NewService(testutil.Signer(key), node, cfg,
		htlc.WithRequestIDs(htlc.NewFixedGenerator("req-1", "req-2", "req-3")))
	require.NoError(t, err)
	return svc
}

// create locks 100 units from alice to bob for an hour.
func (f *fixture) create(t *testing.T) *htlc.CreateResult {
	t.Helper()
	res, err := f.alice.Create(context.Background(), htlc.CreateParams{
		HashLocked:    f.bob.Address(),
		TokenStandard: token,
		Amount:        big.NewInt(100),
		Duration:      time.Hour,
		HashType:      hashlock.Sha3_256,
	})
	require.NoError(t, err)
	return res
}

func TestCreate_GeneratesPreimage(t *testing.T) {
	f := newFixture(t)
	res := f.create(t)

	require.Len(t, res.Preimage, 32)
	ok, err := hashlock.Verify(res.Preimage, res.Entry.HashLock)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, now+3600, res.Entry.ExpirationTime)
	assert.Equal(t, uint8(32), res.Entry.KeyMaxSize)
	assert.Equal(t, f.alice.Address(), res.Entry.TimeLocked)
	assert.Equal(t, f.bob.Address(), res.Entry.HashLocked)
	assert.Equal(t, "req-1", res.Operation.RequestID)

	// The id is the hash of the Create operation.
	opHash, err := res.Operation.Hash()
	require.NoError(t, err)
	assert.Equal(t, opHash, res.Entry.ID)

	subs := f.node.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, ledger.HtlcContractAddress, subs[0].ToAddress)
	assert.Equal(t, big.NewInt(100), subs[0].Amount)

	call, err := contract.Decode(subs[0].Data)
	require.NoError(t, err)
	create, ok := call.(contract.CreateCall)
	require.True(t, ok)
	assert.Equal(t, f.bob.Address(), create.HashLocked)
	assert.Equal(t, now+3600, create.ExpirationTime)
	assert.Equal(t, res.Entry.HashLock.Bytes(), create.HashLock)

	stored, err := f.alice.Get(context.Background(), res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Entry.HashLock, stored.HashLock)
}

func TestCreate_SuppliedHashLock(t *testing.T) {
	f := newFixture(t)
	lock, err := hashlock.Digest([]byte("counterparty secret"), hashlock.Sha2_256)
	require.NoError(t, err)

	res, err := f.alice.Create(context.Background(), htlc.CreateParams{
		HashLocked: f.bob.Address(),
		Amount:     big.NewInt(10),
		Duration:   2 * time.Hour,
		HashType:   hashlock.Sha2_256,
		HashLock:   lock.Bytes(),
	})
	require.NoError(t, err)

	assert.Nil(t, res.Preimage)
	assert.Equal(t, lock, res.Entry.HashLock)
	assert.Equal(t, uint8(htlc.DefaultPreimageMaxLength), res.Entry.KeyMaxSize)
	assert.Equal(t, htlc.DefaultToken, res.Entry.TokenStandard)
}

func TestCreate_CustomPreimageLength(t *testing.T) {
	f := newFixture(t)
	res, err := f.alice.Create(context.Background(), htlc.CreateParams{
		HashLocked:     f.bob.Address(),
		Amount:         big.NewInt(1),
		Duration:       time.Hour,
		HashType:       hashlock.Sha2_256,
		PreimageLength: 64,
	})
	require.NoError(t, err)
	assert.Len(t, res.Preimage, 64)
	assert.Equal(t, uint8(64), res.Entry.KeyMaxSize)
}

func TestCreate_Validation(t *testing.T) {
	valid := func(f *fixture) htlc.CreateParams {
		return htlc.CreateParams{
			HashLocked: f.bob.Address(),
			Amount:     big.NewInt(100),
			Duration:   time.Hour,
			HashType:   hashlock.Sha3_256,
		}
	}

	tests := []struct {
		name   string
		mutate func(*htlc.CreateParams)
		code   htlcerr.Code
	}{
		{name: "zero amount", mutate: func(p *htlc.CreateParams) { p.Amount = big.NewInt(0) }, code: htlcerr.CodeInvalidAmount},
		{name: "negative amount", mutate: func(p *htlc.CreateParams) { p.Amount = big.NewInt(-5) }, code: htlcerr.CodeInvalidAmount},
		{name: "nil amount", mutate: func(p *htlc.CreateParams) { p.Amount = nil }, code: htlcerr.CodeInvalidAmount},
		{name: "duration below min", mutate: func(p *htlc.CreateParams) { p.Duration = 59 * time.Minute }, code: htlcerr.CodeInvalidDuration},
		{name: "duration above max", mutate: func(p *htlc.CreateParams) { p.Duration = 25 * time.Hour }, code: htlcerr.CodeInvalidDuration},
		{name: "empty address", mutate: func(p *htlc.CreateParams) { p.HashLocked = ledger.Address{} }, code: htlcerr.CodeInvalidAddress},
		{name: "embedded address", mutate: func(p *htlc.CreateParams) { p.HashLocked = ledger.HtlcContractAddress }, code: htlcerr.CodeInvalidAddress},
		{name: "unknown hash type", mutate: func(p *htlc.CreateParams) { p.HashType = 3 }, code: htlcerr.CodeUnsupportedHashType},
		{name: "short hash lock", mutate: func(p *htlc.CreateParams) { p.HashLock = []byte{1, 2, 3} }, code: htlcerr.CodeInvalidHashLock},
		{name: "preimage too long", mutate: func(p *htlc.CreateParams) { p.PreimageLength = 256 }, code: htlcerr.CodeInvalidPreimageLength},
		{name: "insufficient balance", mutate: func(p *htlc.CreateParams) { p.Amount = big.NewInt(1_001) }, code: htlcerr.CodeInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := valid(f)
			tt.mutate(&p)

			_, err := f.alice.Create(context.Background(), p)
			require.Error(t, err)
			assert.Equal(t, tt.code, htlcerr.CodeOf(err), "got %v", err)
			assert.Empty(t, f.node.Submissions())
		})
	}
}

func TestCreate_DurationBoundsAreConfig(t *testing.T) {
	node := testutil.NewFakeNode(now)
	cfg := htlc.DefaultConfig()
	cfg.MinDuration = 10 * time.Second
	cfg.MaxDuration = time.Minute
	svc := newService(t, node, testutil.AliceKey, cfg)
	node.SetBalance(svc.Address(), token, big.NewInt(5))

	res, err := svc.Create(context.Background(), htlc.CreateParams{
		HashLocked: testutil.Addr(0x22),
		Amount:     big.NewInt(5),
		Duration:   30 * time.Second,
		HashType:   hashlock.Sha3_256,
	})
	require.NoError(t, err)
	assert.Equal(t, now+30, res.Entry.ExpirationTime)

	_, err = svc.Create(context.Background(), htlc.CreateParams{
		HashLocked: testutil.Addr(0x22),
		Amount:     big.NewInt(1),
		Duration:   time.Hour,
		HashType:   hashlock.Sha3_256,
	})
	assert.True(t, errors.Is(err, htlcerr.ErrInvalidDuration))
}

func TestCreate_NetworkErrors(t *testing.T) {
	f := newFixture(t)
	f.node.FailMomentum(1, nil)

	_, err := f.alice.Create(context.Background(), htlc.CreateParams{
		HashLocked: f.bob.Address(),
		Amount:     big.NewInt(1),
		Duration:   time.Hour,
	})
	require.Error(t, err)
	assert.True(t, htlcerr.IsNetwork(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)

	f.node.FailSubmit(1, nil)
	_, err = f.alice.Create(context.Background(), htlc.CreateParams{
		HashLocked: f.bob.Address(),
		Amount:     big.NewInt(1),
		Duration:   time.Hour,
	})
	assert.True(t, htlcerr.IsNetwork(err))
	assert.Empty(t, f.node.Submissions())
}

func TestReclaim(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.alice.Reclaim(ctx, testutil.Hash(0x99))
		assert.True(t, errors.Is(err, htlcerr.ErrHtlcNotFound))
		assert.True(t, htlcerr.IsState(err))
	})

	t.Run("not yet expired reports remaining", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)
		f.node.SetTime(now + 600)

		_, err := f.alice.Reclaim(ctx, res.Entry.ID)
		require.Error(t, err)
		e, ok := htlcerr.As(err)
		require.True(t, ok)
		assert.Equal(t, htlcerr.CodeNotYetExpired, e.Code)
		assert.Equal(t, 50*time.Minute, e.Remaining)
		assert.Equal(t, res.Entry.ID, e.ID)
	})

	t.Run("wrong caller regardless of expiration", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)

		_, err := f.bob.Reclaim(ctx, res.Entry.ID)
		assert.True(t, errors.Is(err, htlcerr.ErrPermissionDenied))

		f.node.SetTime(now + 7200)
		_, err = f.bob.Reclaim(ctx, res.Entry.ID)
		assert.True(t, errors.Is(err, htlcerr.ErrPermissionDenied))
		assert.True(t, htlcerr.IsPermission(err))
	})

	t.Run("after expiration", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)
		f.node.SetTime(now + 3600)

		receipt, err := f.alice.Reclaim(ctx, res.Entry.ID)
		require.NoError(t, err)

		call, err := contract.Decode(receipt.Operation.Data)
		require.NoError(t, err)
		assert.Equal(t, contract.ReclaimCall{ID: res.Entry.ID}, call)
		assert.Equal(t, 0, receipt.Operation.Amount.Sign())
		require.Len(t, f.node.Submissions(), 2)

		// The contract dropped the entry.
		_, err = f.alice.Reclaim(ctx, res.Entry.ID)
		assert.True(t, errors.Is(err, htlcerr.ErrHtlcNotFound))
	})
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()

	t.Run("by hash locked", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)

		receipt, err := f.bob.Unlock(ctx, res.Entry.ID, res.Preimage)
		require.NoError(t, err)

		call, err := contract.Decode(receipt.Operation.Data)
		require.NoError(t, err)
		assert.Equal(t, contract.UnlockCall{ID: res.Entry.ID, Preimage: res.Preimage}, call)
		assert.Equal(t, f.bob.Address(), receipt.Operation.Address)
	})

	t.Run("expired with valid preimage", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)
		f.node.SetTime(res.Entry.ExpirationTime)

		_, err := f.bob.Unlock(ctx, res.Entry.ID, res.Preimage)
		assert.True(t, errors.Is(err, htlcerr.ErrExpired))
		assert.Len(t, f.node.Submissions(), 1)
	})

	t.Run("third party without proxy", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)

		_, err := f.carol.Unlock(ctx, res.Entry.ID, res.Preimage)
		assert.True(t, errors.Is(err, htlcerr.ErrPermissionDenied))
	})

	t.Run("third party with proxy", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)

		_, err := f.bob.AllowProxyUnlock(ctx)
		require.NoError(t, err)
		allowed, err := f.carol.ProxyUnlockStatus(ctx, f.bob.Address())
		require.NoError(t, err)
		require.True(t, allowed)

		_, err = f.carol.Unlock(ctx, res.Entry.ID, res.Preimage)
		require.NoError(t, err)
	})

	t.Run("proxy revoked", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)

		_, err := f.bob.AllowProxyUnlock(ctx)
		require.NoError(t, err)
		_, err = f.bob.DenyProxyUnlock(ctx)
		require.NoError(t, err)

		_, err = f.carol.Unlock(ctx, res.Entry.ID, res.Preimage)
		assert.True(t, errors.Is(err, htlcerr.ErrPermissionDenied))
	})

	t.Run("wrong preimage", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)
		wrong := append([]byte(nil), res.Preimage...)
		wrong[0] ^= 0x01

		_, err := f.bob.Unlock(ctx, res.Entry.ID, wrong)
		assert.True(t, errors.Is(err, htlcerr.ErrPreimageMismatch))
		assert.True(t, htlcerr.IsCrypto(err))
	})

	t.Run("preimage longer than key max size", func(t *testing.T) {
		f := newFixture(t)
		res := f.create(t)

		_, err := f.bob.Unlock(ctx, res.Entry.ID, make([]byte, 33))
		assert.True(t, errors.Is(err, htlcerr.ErrInvalidPreimageLength))
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bob.Unlock(ctx, testutil.Hash(0x42), []byte{1})
		assert.True(t, errors.Is(err, htlcerr.ErrHtlcNotFound))
	})
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	cfg := htlc.DefaultConfig()
	cfg.MaxDuration = time.Minute

	_, err := htlc.NewService(testutil.Signer(testutil.AliceKey), testutil.NewFakeNode(now), cfg)
	assert.Error(t, err)
}
