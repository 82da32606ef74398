package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/signer"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

// FakeNode is an in-memory ledger node.
//
// It implements every collaborator interface the HTLC core consumes. Submit
// verifies the signature, records the operation and applies its contract
// effect (Create adds an entry, Reclaim and Unlock remove it, proxy calls
// flip the caller's permission) so multi-step flows behave like a real node.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeNode struct {
	mu sync.Mutex

	momentum  ledger.Momentum
	blocks    map[ledger.Hash]*ledger.AccountBlock
	htlcs     map[ledger.Hash]*htlc.Entry
	proxy     map[ledger.Address]bool
	balances  map[ledger.Address]map[ledger.TokenStandard]*big.Int
	tokens    map[ledger.TokenStandard]*ledger.TokenInfo
	submitted []*ledger.Operation

	submitErrs   []error
	momentumErrs []error
	blockErrs    map[ledger.Hash][]error
	tokenCalls   int

	subs   map[int]*fakeSubscription
	nextID int
}

// NewFakeNode creates a node at momentum height 1, timestamp ts.
func NewFakeNode(ts int64) *FakeNode {
	return &FakeNode{
		momentum:  ledger.Momentum{Height: 1, Timestamp: ts},
		blocks:    make(map[ledger.Hash]*ledger.AccountBlock),
		htlcs:     make(map[ledger.Hash]*htlc.Entry),
		proxy:     make(map[ledger.Address]bool),
		balances:  make(map[ledger.Address]map[ledger.TokenStandard]*big.Int),
		tokens:    make(map[ledger.TokenStandard]*ledger.TokenInfo),
		blockErrs: make(map[ledger.Hash][]error),
		subs:      make(map[int]*fakeSubscription),
	}
}

// SetTime moves the frontier momentum to ts and bumps its height.
func (n *FakeNode) SetTime(ts int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.momentum.Height++
	n.momentum.Timestamp = ts
}

// Now returns the frontier timestamp.
func (n *FakeNode) Now() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.momentum.Timestamp
}

// AddBlock stores a block for GetAccountBlockByHash.
func (n *FakeNode) AddBlock(b *ledger.AccountBlock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[b.Hash] = b
}

// AddHtlc stores a live entry.
func (n *FakeNode) AddHtlc(e *htlc.Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.htlcs[e.ID] = e.Clone()
}

// RemoveHtlc drops an entry, as the contract does on resolution.
func (n *FakeNode) RemoveHtlc(id ledger.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.htlcs, id)
}

// SetBalance sets addr's balance of token.
func (n *FakeNode) SetBalance(addr ledger.Address, token ledger.TokenStandard, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.balances[addr] == nil {
		n.balances[addr] = make(map[ledger.TokenStandard]*big.Int)
	}
	n.balances[addr][token] = new(big.Int).Set(amount)
}

// SetProxy sets addr's proxy unlock permission.
func (n *FakeNode) SetProxy(addr ledger.Address, allowed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proxy[addr] = allowed
}

// AddToken registers token metadata.
func (n *FakeNode) AddToken(info ledger.TokenInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[info.Standard] = &info
}

// FailSubmit queues errors returned by the next Submit calls, one per call.
// A nil err uses ErrInjected.
func (n *FakeNode) FailSubmit(times int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitErrs = append(n.submitErrs, repeat(times, err)...)
}

// FailMomentum queues errors for the next GetFrontierMomentum calls.
func (n *FakeNode) FailMomentum(times int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.momentumErrs = append(n.momentumErrs, repeat(times, err)...)
}

// FailBlock queues errors for the next fetches of hash.
func (n *FakeNode) FailBlock(hash ledger.Hash, times int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blockErrs[hash] = append(n.blockErrs[hash], repeat(times, err)...)
}

// Submissions returns the recorded operations in submission order.
func (n *FakeNode) Submissions() []*ledger.Operation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*ledger.Operation(nil), n.submitted...)
}

// TokenCalls returns how many times GetTokenInfo was called.
func (n *FakeNode) TokenCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokenCalls
}

// Subscribers returns the number of live subscriptions.
func (n *FakeNode) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Emit delivers a batch of events to every subscriber on the caller's goroutine.
func (n *FakeNode) Emit(events ...ledger.BlockEvent) {
	n.mu.Lock()
	fns := make([]func([]ledger.BlockEvent), 0, len(n.subs))
	for _, s := range n.subs {
		fns = append(fns, s.fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(append([]ledger.BlockEvent(nil), events...))
	}
}

// DropSubscriptions ends every live subscription with err, as a lost
// connection would. A nil err uses ErrInjected.
func (n *FakeNode) DropSubscriptions(err error) {
	if err == nil {
		err = ErrInjected
	}
	n.mu.Lock()
	subs := make([]*fakeSubscription, 0, len(n.subs))
	for id, s := range n.subs {
		subs = append(subs, s)
		delete(n.subs, id)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.end(err)
	}
}

// GetFrontierMomentum implements ledger.MomentumSource.
func (n *FakeNode) GetFrontierMomentum(ctx context.Context) (ledger.Momentum, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := pop(&n.momentumErrs); err != nil {
		return ledger.Momentum{}, err
	}
	return n.momentum, nil
}

// GetAccountBlockByHash implements ledger.BlockSource.
func (n *FakeNode) GetAccountBlockByHash(ctx context.Context, hash ledger.Hash) (*ledger.AccountBlock, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if errs := n.blockErrs[hash]; len(errs) > 0 {
		err := pop(&errs)
		n.blockErrs[hash] = errs
		return nil, err
	}
	return n.blocks[hash], nil
}

// GetBalance implements ledger.BalanceSource.
func (n *FakeNode) GetBalance(ctx context.Context, addr ledger.Address, token ledger.TokenStandard) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b := n.balances[addr][token]; b != nil {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// GetTokenInfo implements ledger.TokenSource.
func (n *FakeNode) GetTokenInfo(ctx context.Context, standard ledger.TokenStandard) (*ledger.TokenInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokenCalls++
	if info, ok := n.tokens[standard]; ok {
		c := *info
		return &c, nil
	}
	return nil, nil
}

// GetHtlcByID implements htlc.Ledger.
func (n *FakeNode) GetHtlcByID(ctx context.Context, id ledger.Hash) (*htlc.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.htlcs[id]; ok {
		return e.Clone(), nil
	}
	return nil, nil
}

// GetProxyUnlockStatus implements htlc.Ledger.
func (n *FakeNode) GetProxyUnlockStatus(ctx context.Context, addr ledger.Address) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.proxy[addr], nil
}

// SubscribeToAccountBlocks implements ledger.Subscriber.
func (n *FakeNode) SubscribeToAccountBlocks(ctx context.Context, fn func([]ledger.BlockEvent)) (ledger.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	s := &fakeSubscription{node: n, id: n.nextID, fn: fn, errc: make(chan error, 1)}
	n.subs[s.id] = s
	return s, nil
}

// Submit implements ledger.Submitter.
func (n *FakeNode) Submit(ctx context.Context, op *ledger.Operation) (*ledger.AccountBlock, error) {
	if err := signer.Verify(op); err != nil {
		return nil, err
	}
	hash, err := op.Hash()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := pop(&n.submitErrs); err != nil {
		return nil, err
	}
	n.submitted = append(n.submitted, op)

	block := &ledger.AccountBlock{
		Hash:          hash,
		BlockType:     ledger.BlockTypeUserSend,
		Address:       op.Address,
		ToAddress:     op.ToAddress,
		Amount:        op.Amount,
		TokenStandard: op.TokenStandard,
		Data:          op.Data,
	}
	n.blocks[hash] = block
	n.apply(hash, op)
	return block, nil
}

// apply mirrors the contract's effect of op. Caller holds n.mu.
func (n *FakeNode) apply(hash ledger.Hash, op *ledger.Operation) {
	call, err := contract.Decode(op.Data)
	if err != nil {
		return
	}
	switch c := call.(type) {
	case contract.CreateCall:
		lock, err := c.Lock()
		if err != nil {
			return
		}
		n.htlcs[hash] = &htlc.Entry{
			ID:             hash,
			TimeLocked:     op.Address,
			HashLocked:     c.HashLocked,
			TokenStandard:  op.TokenStandard,
			Amount:         new(big.Int).Set(op.Amount),
			ExpirationTime: c.ExpirationTime,
			HashLock:       lock,
			KeyMaxSize:     c.KeyMaxSize,
		}
		if bal := n.balances[op.Address][op.TokenStandard]; bal != nil {
			bal.Sub(bal, op.Amount)
		}
	case contract.ReclaimCall:
		delete(n.htlcs, c.ID)
	case contract.UnlockCall:
		delete(n.htlcs, c.ID)
	case contract.AllowProxyUnlockCall:
		n.proxy[op.Address] = true
	case contract.DenyProxyUnlockCall:
		n.proxy[op.Address] = false
	}
}

type fakeSubscription struct {
	node *FakeNode
	id   int
	fn   func([]ledger.BlockEvent)
	errc chan error
	once sync.Once
}

func (s *fakeSubscription) Unsubscribe() {
	s.node.mu.Lock()
	delete(s.node.subs, s.id)
	s.node.mu.Unlock()
	s.end(nil)
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errc
}

func (s *fakeSubscription) end(err error) {
	s.once.Do(func() {
		if err != nil {
			s.errc <- err
		}
		close(s.errc)
	})
}

func repeat(times int, err error) []error {
	if err == nil {
		err = ErrInjected
	}
	out := make([]error, times)
	for i := range out {
		out[i] = err
	}
	return out
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
