package rpcnode

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/monitor"
	"github.com/roach88/htlc/internal/testutil"
)

var (
	_ htlc.Ledger        = (*Client)(nil)
	_ monitor.Node       = (*Client)(nil)
	_ ledger.TokenSource = (*Client)(nil)
)

const now int64 = 1_700_000_000

// The test node serves a FakeNode over the JSON-RPC namespaces the client
// expects.

type ledgerAPI struct{ node *testutil.FakeNode }

func (a *ledgerAPI) GetAccountBlockByHash(ctx context.Context, hash common.Hash) (*blockJSON, error) {
	b, err := a.node.GetAccountBlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return toBlockJSON(b), nil
}

func (a *ledgerAPI) GetFrontierMomentum(ctx context.Context) (*momentumJSON, error) {
	m, err := a.node.GetFrontierMomentum(ctx)
	if err != nil {
		return nil, err
	}
	return &momentumJSON{Hash: m.Hash, Height: m.Height, Timestamp: m.Timestamp}, nil
}

func (a *ledgerAPI) GetBalance(ctx context.Context, addr common.Address, standard string) (*hexutil.Big, error) {
	b, err := a.node.GetBalance(ctx, addr, ledger.TokenStandard(standard))
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(b), nil
}

func (a *ledgerAPI) PublishRawTransaction(ctx context.Context, op operationJSON) (*blockJSON, error) {
	b, err := a.node.Submit(ctx, &ledger.Operation{
		RequestID:      op.RequestID,
		Address:        op.Address,
		ToAddress:      op.ToAddress,
		TokenStandard:  ledger.TokenStandard(op.TokenStandard),
		Amount:         bigOf(op.Amount),
		Data:           op.Data,
		MomentumHeight: op.MomentumHeight,
		PublicKey:      op.PublicKey,
		Signature:      op.Signature,
	})
	if err != nil {
		return nil, err
	}
	if b.Hash != op.Hash {
		return nil, errors.New("hash mismatch")
	}
	return toBlockJSON(b), nil
}

func (a *ledgerAPI) AllAccountBlocks(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	inner, err := a.node.SubscribeToAccountBlocks(ctx, func(events []ledger.BlockEvent) {
		out := make([]blockEventJSON, len(events))
		for i, ev := range events {
			out[i] = blockEventJSON{ToAddress: ev.ToAddress, Hash: ev.Hash}
		}
		_ = notifier.Notify(sub.ID, out)
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-sub.Err()
		inner.Unsubscribe()
	}()
	return sub, nil
}

type htlcAPI struct{ node *testutil.FakeNode }

func (a *htlcAPI) GetById(ctx context.Context, id common.Hash) (*htlcJSON, error) {
	e, err := a.node.GetHtlcByID(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}
	return &htlcJSON{
		ID:             e.ID,
		TimeLocked:     e.TimeLocked,
		HashLocked:     e.HashLocked,
		TokenStandard:  string(e.TokenStandard),
		Amount:         (*hexutil.Big)(e.Amount),
		ExpirationTime: e.ExpirationTime,
		HashType:       uint8(e.HashLock.Type),
		KeyMaxSize:     e.KeyMaxSize,
		HashLock:       e.HashLock.Bytes(),
	}, nil
}

func (a *htlcAPI) GetProxyUnlockStatus(ctx context.Context, addr common.Address) (bool, error) {
	return a.node.GetProxyUnlockStatus(ctx, addr)
}

type tokenAPI struct{ node *testutil.FakeNode }

func (a *tokenAPI) GetByStandard(ctx context.Context, standard string) (*tokenJSON, error) {
	info, err := a.node.GetTokenInfo(ctx, ledger.TokenStandard(standard))
	if err != nil || info == nil {
		return nil, err
	}
	return &tokenJSON{
		TokenStandard: string(info.Standard),
		Symbol:        info.Symbol,
		Name:          info.Name,
		Decimals:      info.Decimals,
	}, nil
}

func toBlockJSON(b *ledger.AccountBlock) *blockJSON {
	if b == nil {
		return nil
	}
	j := &blockJSON{
		Hash:          b.Hash,
		BlockType:     uint8(b.BlockType),
		Height:        b.Height,
		Address:       b.Address,
		ToAddress:     b.ToAddress,
		Amount:        (*hexutil.Big)(b.Amount),
		TokenStandard: string(b.TokenStandard),
		Data:          b.Data,
		FromBlockHash: b.FromBlockHash,
		Paired:        toBlockJSON(b.Paired),
	}
	if b.Confirmation != nil {
		j.Confirmation = &confirmationJSON{
			MomentumHeight: b.Confirmation.MomentumHeight,
			MomentumHash:   b.Confirmation.MomentumHash,
		}
	}
	for _, d := range b.Descendants {
		j.Descendants = append(j.Descendants, toBlockJSON(d))
	}
	return j
}

func newTestClient(t *testing.T, node *testutil.FakeNode, opts ...Option) *Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("ledger", &ledgerAPI{node: node}))
	require.NoError(t, server.RegisterName("htlc", &htlcAPI{node: node}))
	require.NoError(t, server.RegisterName("token", &tokenAPI{node: node}))

	c := NewClient(rpc.DialInProc(server), opts...)
	t.Cleanup(func() {
		c.Close()
		server.Stop()
	})
	return c
}

func TestClient_Queries(t *testing.T) {
	ctx := context.Background()
	node := testutil.NewFakeNode(now)
	c := newTestClient(t, node)

	m, err := c.GetFrontierMomentum(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Height)
	assert.Equal(t, now, m.Timestamp)

	addr := testutil.Addr(0x01)
	node.SetBalance(addr, htlc.DefaultToken, big.NewInt(12345))
	bal, err := c.GetBalance(ctx, addr, htlc.DefaultToken)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), bal.Int64())

	node.AddToken(ledger.TokenInfo{Standard: htlc.DefaultToken, Symbol: "ZNN", Name: "Zenon", Decimals: 8})
	info, err := c.GetTokenInfo(ctx, htlc.DefaultToken)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "ZNN", info.Symbol)
	assert.Equal(t, uint8(8), info.Decimals)

	info, err = c.GetTokenInfo(ctx, "zts1unknown")
	require.NoError(t, err)
	assert.Nil(t, info)

	node.SetProxy(addr, true)
	allowed, err := c.GetProxyUnlockStatus(ctx, addr)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestClient_GetAccountBlockByHash(t *testing.T) {
	ctx := context.Background()
	node := testutil.NewFakeNode(now)
	c := newTestClient(t, node)

	want := &ledger.AccountBlock{
		Hash:          testutil.Hash(0x10),
		BlockType:     ledger.BlockTypeUserSend,
		Height:        7,
		Address:       testutil.Addr(0x01),
		ToAddress:     ledger.HtlcContractAddress,
		Amount:        big.NewInt(0),
		TokenStandard: htlc.DefaultToken,
		Data:          []byte{0x01, 0x02},
		Confirmation:  &ledger.Confirmation{MomentumHeight: 9, MomentumHash: testutil.Hash(0x09)},
		Paired: &ledger.AccountBlock{
			Hash:      testutil.Hash(0x11),
			BlockType: ledger.BlockTypeContractReceive,
			Amount:    big.NewInt(0),
			Descendants: []*ledger.AccountBlock{{
				Hash:          testutil.Hash(0x12),
				BlockType:     ledger.BlockTypeContractSend,
				ToAddress:     testutil.Addr(0x02),
				Amount:        big.NewInt(100),
				TokenStandard: htlc.DefaultToken,
			}},
		},
	}
	node.AddBlock(want)

	got, err := c.GetAccountBlockByHash(ctx, want.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Hash, got.Hash)
	assert.Equal(t, want.Data, got.Data)
	assert.True(t, got.Settled())
	require.Len(t, got.Settlements(), 1)
	assert.Equal(t, int64(100), got.Settlements()[0].Amount.Int64())
	assert.Equal(t, testutil.Addr(0x02), got.Settlements()[0].ToAddress)

	missing, err := c.GetAccountBlockByHash(ctx, testutil.Hash(0x99))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClient_LifecycleOverRPC(t *testing.T) {
	ctx := context.Background()
	node := testutil.NewFakeNode(now)
	c := newTestClient(t, node)

	alice, err := htlc.NewService(testutil.Signer(testutil.AliceKey), c, htlc.DefaultConfig())
	require.NoError(t, err)
	node.SetBalance(alice.Address(), htlc.DefaultToken, big.NewInt(1_000))

	res, err := alice.Create(ctx, htlc.CreateParams{
		HashLocked: testutil.Signer(testutil.BobKey).Address(),
		Amount:     big.NewInt(100),
		Duration:   time.Hour,
		HashType:   hashlock.Sha2_256,
	})
	require.NoError(t, err)
	assert.Equal(t, res.Entry.ID, res.Block.Hash)

	entry, err := c.GetHtlcByID(ctx, res.Entry.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, res.Entry.HashLock, entry.HashLock)
	assert.Equal(t, int64(100), entry.Amount.Int64())

	call, err := contract.Decode(res.Block.Data)
	require.NoError(t, err)
	assert.Equal(t, contract.MethodCreate, call.Method())

	missing, err := c.GetHtlcByID(ctx, testutil.Hash(0x42))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClient_ErrorsAreNetwork(t *testing.T) {
	ctx := context.Background()
	node := testutil.NewFakeNode(now)
	c := newTestClient(t, node)

	node.FailMomentum(1, nil)
	_, err := c.GetFrontierMomentum(ctx)
	assert.True(t, htlcerr.IsNetwork(err))

	node.FailSubmit(1, nil)
	svc, err := htlc.NewService(testutil.Signer(testutil.AliceKey), c, htlc.DefaultConfig())
	require.NoError(t, err)
	_, err = svc.AllowProxyUnlock(ctx)
	assert.True(t, htlcerr.IsNetwork(err))
}

type slowAPI struct{ release chan struct{} }

func (a *slowAPI) GetFrontierMomentum(ctx context.Context) (*momentumJSON, error) {
	<-a.release
	return &momentumJSON{}, nil
}

func TestClient_Timeout(t *testing.T) {
	api := &slowAPI{release: make(chan struct{})}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("ledger", api))
	c := NewClient(rpc.DialInProc(server), WithTimeout(20*time.Millisecond))
	defer func() {
		close(api.release)
		c.Close()
		server.Stop()
	}()

	_, err := c.GetFrontierMomentum(context.Background())
	require.Error(t, err)
	assert.True(t, htlcerr.IsNetwork(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Subscription(t *testing.T) {
	node := testutil.NewFakeNode(now)
	c := newTestClient(t, node)

	got := make(chan []ledger.BlockEvent, 4)
	sub, err := c.SubscribeToAccountBlocks(context.Background(), func(events []ledger.BlockEvent) {
		got <- events
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return node.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	ev := ledger.BlockEvent{ToAddress: ledger.HtlcContractAddress, Hash: testutil.Hash(0x33)}
	node.Emit(ev)

	select {
	case batch := <-got:
		assert.Equal(t, []ledger.BlockEvent{ev}, batch)
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.Eventually(t, func() bool { return node.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_SubscriptionDropReportsNetworkError(t *testing.T) {
	node := testutil.NewFakeNode(now)
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("ledger", &ledgerAPI{node: node}))
	c := NewClient(rpc.DialInProc(server))
	defer c.Close()

	sub, err := c.SubscribeToAccountBlocks(context.Background(), func([]ledger.BlockEvent) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	server.Stop()

	select {
	case err, ok := <-sub.Err():
		require.True(t, ok, "Err closed without a cause")
		assert.True(t, htlcerr.IsNetwork(err))
	case <-time.After(2 * time.Second):
		t.Fatal("subscription end not reported")
	}
}

func TestClient_UnsubscribeClosesErr(t *testing.T) {
	node := testutil.NewFakeNode(now)
	c := newTestClient(t, node)

	sub, err := c.SubscribeToAccountBlocks(context.Background(), func([]ledger.BlockEvent) {})
	require.NoError(t, err)
	sub.Unsubscribe()

	select {
	case err, ok := <-sub.Err():
		assert.False(t, ok, "unexpected error %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Err not closed after Unsubscribe")
	}
}
