package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/store"
)

const (
	DefaultInterval        = time.Second
	DefaultSettleRetries   = 30
	DefaultLoadConcurrency = 8

	eventBuffer = 64
	seenSize    = 4096
)

var errSubscriptionEnded = errors.New("subscription ended")

// Reclaimer reads entries and reclaims them as the local identity.
// *htlc.Service satisfies it.
type Reclaimer interface {
	Address() ledger.Address
	Get(ctx context.Context, id ledger.Hash) (*htlc.Entry, error)
	Reclaim(ctx context.Context, id ledger.Hash) (*htlc.Receipt, error)
}

// Node is the ledger surface the loop reads.
type Node interface {
	ledger.BlockSource
	ledger.MomentumSource
	ledger.Subscriber
}

// Journal records runs, transitions and outcomes. *store.Store satisfies it.
type Journal interface {
	WriteRun(ctx context.Context, run store.Run) error
	WriteTransition(ctx context.Context, tr store.Transition) error
	WriteOutcome(ctx context.Context, o store.Outcome) error
}

// Monitor drives a set of HTLCs to resolution.
//
// All fields below the mutex-guarded inbox are owned by the goroutine
// calling Cycle (normally Run).
type Monitor struct {
	reclaimer Reclaimer
	node      Node
	contract  ledger.Address
	local     ledger.Address

	interval        time.Duration
	backoffCfg      BackoffConfig
	settleRetries   int
	loadConcurrency int
	runID           string
	startSeq        int64

	wall    WallClock
	clock   *Clock
	journal Journal
	logger  *slog.Logger

	queue *pendingQueue
	seen  *lru.Cache[ledger.Hash, struct{}]

	inboxMu sync.Mutex
	inbox   []ledger.Hash
	wake    chan struct{}

	entries map[ledger.Hash]*tracked
	tracked atomic.Int64

	sub    ledger.Subscription
	events chan Event

	done chan struct{}
	err  error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the cycle interval. Defaults to one second.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithWallClock sets the clock used to pace reclaim retries.
func WithWallClock(c WallClock) Option {
	return func(m *Monitor) {
		m.wall = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithJournal records the run in j.
func WithJournal(j Journal) Option {
	return func(m *Monitor) {
		m.journal = j
	}
}

// WithBackoff sets reclaim retry pacing.
func WithBackoff(cfg BackoffConfig) Option {
	return func(m *Monitor) {
		m.backoffCfg = cfg
	}
}

// WithSettleRetries sets how many cycles an unsettled call is re-checked
// before it is dropped.
func WithSettleRetries(n int) Option {
	return func(m *Monitor) {
		m.settleRetries = n
	}
}

// WithContractAddress overrides the HTLC contract address.
func WithContractAddress(addr ledger.Address) Option {
	return func(m *Monitor) {
		m.contract = addr
	}
}

// WithRunID sets the journal run id. Defaults to a UUIDv7.
func WithRunID(id string) Option {
	return func(m *Monitor) {
		m.runID = id
	}
}

// WithStartSeq continues the logical clock after seq, so a resumed run
// never reuses a journal sequence number.
func WithStartSeq(seq int64) Option {
	return func(m *Monitor) {
		m.startSeq = seq
	}
}

// WithLoadConcurrency bounds concurrent entry lookups.
func WithLoadConcurrency(n int) Option {
	return func(m *Monitor) {
		m.loadConcurrency = n
	}
}

// New creates a Monitor tracking ids on behalf of reclaimer's identity.
func New(reclaimer Reclaimer, node Node, ids []ledger.Hash, opts ...Option) *Monitor {
	m := &Monitor{
		reclaimer:       reclaimer,
		node:            node,
		contract:        ledger.HtlcContractAddress,
		local:           reclaimer.Address(),
		interval:        DefaultInterval,
		backoffCfg:      DefaultBackoff(),
		settleRetries:   DefaultSettleRetries,
		loadConcurrency: DefaultLoadConcurrency,
		wall:            systemClock{},
		logger:          slog.Default(),
		queue:           newPendingQueue(),
		wake:            make(chan struct{}, 1),
		entries:         make(map[ledger.Hash]*tracked),
		events:          make(chan Event, eventBuffer),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runID == "" {
		m.runID = uuid.Must(uuid.NewV7()).String()
	}
	if m.loadConcurrency <= 0 {
		m.loadConcurrency = DefaultLoadConcurrency
	}
	m.clock = NewClockAt(m.startSeq)
	// lru.New only fails for a non-positive size.
	m.seen, _ = lru.New[ledger.Hash, struct{}](seenSize)

	m.inbox = append(m.inbox, ids...)
	m.tracked.Store(int64(len(ids)))
	return m
}

// Start creates a Monitor and runs it in a new goroutine. The returned
// channel is the outcome stream; it is closed when the monitor stops.
// Use Wait for the exit error.
func Start(ctx context.Context, reclaimer Reclaimer, node Node, ids []ledger.Hash, opts ...Option) (*Monitor, <-chan Event) {
	m := New(reclaimer, node, ids, opts...)
	go func() {
		m.err = m.Run(ctx)
		close(m.done)
	}()
	return m, m.events
}

// Wait blocks until a monitor launched by Start has stopped.
func (m *Monitor) Wait() error {
	<-m.done
	return m.err
}

// Events returns the outcome stream.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// RunID returns the journal run id.
func (m *Monitor) RunID() string {
	return m.runID
}

// Tracked returns the number of entries not yet resolved, including ids
// still waiting to be loaded.
func (m *Monitor) Tracked() int {
	return int(m.tracked.Load())
}

// Track adds ids to the monitor. Safe to call from any goroutine.
func (m *Monitor) Track(ids ...ledger.Hash) {
	if len(ids) == 0 {
		return
	}
	m.inboxMu.Lock()
	m.inbox = append(m.inbox, ids...)
	m.inboxMu.Unlock()
	m.tracked.Add(int64(len(ids)))

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Attach subscribes to account block events and records the run. Run
// calls it; it is exported so tests can drive Cycle directly.
func (m *Monitor) Attach(ctx context.Context) error {
	if m.sub != nil {
		return nil
	}
	sub, err := m.node.SubscribeToAccountBlocks(ctx, m.onBlocks)
	if err != nil {
		return htlcerr.Network(err, "subscribe to account blocks")
	}
	m.sub = sub

	if m.journal != nil {
		run := store.Run{
			ID:              m.runID,
			LocalAddress:    m.local,
			ContractAddress: m.contract,
			StartSeq:        m.startSeq,
			StartedAt:       m.wall.Now().Unix(),
		}
		if err := m.journal.WriteRun(ctx, run); err != nil {
			m.logger.Warn("journal write failed", "run_id", m.runID, "error", err)
		}
	}
	return nil
}

// Close unsubscribes and stops accepting blocks.
func (m *Monitor) Close() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	m.queue.Close()
}

// onBlocks runs on the subscriber's goroutine. It only touches the queue
// and the seen cache, both of which are safe for concurrent use.
func (m *Monitor) onBlocks(events []ledger.BlockEvent) {
	for _, ev := range events {
		if ev.ToAddress != m.contract {
			continue
		}
		if m.seen.Contains(ev.Hash) {
			continue
		}
		m.queue.Push(ev.Hash)
	}
}

// Run is the reconciliation loop.
//
// The first cycle runs immediately. Later cycles run on the interval, or
// earlier when blocks arrive or ids are tracked. Run returns nil once every
// entry is resolved, ctx.Err() when cancelled, or a NETWORK error when the
// node ends the block subscription. The outcome stream is closed on return.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.events)

	if err := m.Attach(ctx); err != nil {
		return err
	}
	defer m.Close()

	m.logger.Info("monitor starting",
		"run_id", m.runID,
		"local", m.local.Hex(),
		"tracked", m.Tracked(),
		"interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	subErr := m.sub.Err()

	for {
		if m.Cycle(ctx) {
			m.logger.Info("monitor finished", "run_id", m.runID, "seq", m.clock.Current())
			return nil
		}
		if err := ctx.Err(); err != nil {
			m.logger.Info("monitor stopped", "run_id", m.runID, "tracked", m.Tracked())
			return err
		}

		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped", "run_id", m.runID, "tracked", m.Tracked())
			return ctx.Err()
		case err := <-subErr:
			if err == nil {
				err = errSubscriptionEnded
			}
			m.logger.Error("monitor stopped, block subscription ended",
				"run_id", m.runID, "tracked", m.Tracked(), "error", err)
			return htlcerr.Network(err, "account block subscription")
		case <-ticker.C:
		case <-m.queue.Wait():
		case <-m.wake:
		}
	}
}

// Cycle runs one reconciliation pass and reports whether nothing is left
// to track. It must only be called from one goroutine at a time.
func (m *Monitor) Cycle(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	m.load(ctx)

	frontier, err := m.node.GetFrontierMomentum(ctx)
	if err != nil {
		m.logger.Warn("frontier momentum unavailable, skipping expiry checks", "error", err)
	} else {
		m.expire(ctx, frontier.Timestamp)
	}

	m.drain(ctx)
	m.sweep(ctx)

	m.inboxMu.Lock()
	pendingIDs := len(m.inbox)
	m.inboxMu.Unlock()

	m.tracked.Store(int64(len(m.entries) + pendingIDs))
	return len(m.entries) == 0 && pendingIDs == 0
}

// load resolves newly tracked ids into entries.
func (m *Monitor) load(ctx context.Context) {
	m.inboxMu.Lock()
	ids := m.inbox
	m.inbox = nil
	m.inboxMu.Unlock()

	ids = slices.DeleteFunc(ids, func(id ledger.Hash) bool {
		_, ok := m.entries[id]
		return ok
	})
	slices.SortFunc(ids, func(a, b ledger.Hash) int { return bytes.Compare(a[:], b[:]) })
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return
	}

	type result struct {
		entry *htlc.Entry
		err   error
	}
	results := make([]result, len(ids))

	var g errgroup.Group
	g.SetLimit(m.loadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			e, err := m.reclaimer.Get(ctx, id)
			results[i] = result{entry: e, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var retry []ledger.Hash
	for i, id := range ids {
		r := results[i]
		switch {
		case r.err == nil:
			r.entry.ID = id
			m.entries[id] = &tracked{
				entry:   r.entry,
				state:   StateActive,
				backoff: m.backoffCfg.build(),
			}
			m.logger.Info("htlc tracked",
				"htlc_id", id.Hex(),
				"time_locked", r.entry.TimeLocked.Hex(),
				"hash_locked", r.entry.HashLocked.Hex(),
				"expiration", r.entry.Expiration().Format(time.RFC3339))
			m.journalTransition(ctx, m.entries[id])
		case errors.Is(r.err, htlcerr.ErrHtlcNotFound):
			m.logger.Warn("htlc not found, not tracking", "htlc_id", id.Hex())
			m.emit(ctx, Event{ID: id, Outcome: OutcomeError, Err: r.err, Terminal: true})
		default:
			m.logger.Warn("htlc lookup failed, will retry", "htlc_id", id.Hex(), "error", r.err)
			retry = append(retry, id)
		}
	}
	if len(retry) > 0 {
		m.inboxMu.Lock()
		m.inbox = append(m.inbox, retry...)
		m.inboxMu.Unlock()
	}
}

// expire reclaims or parks every active entry whose expiration has passed.
func (m *Monitor) expire(ctx context.Context, now int64) {
	for _, id := range m.sortedIDs() {
		t := m.entries[id]
		if t.state != StateActive || !t.entry.Expired(now) {
			continue
		}

		if t.entry.TimeLocked != m.local {
			t.state = StateWaiting
			m.logger.Info("htlc expired, waiting for counterparty reclaim",
				"htlc_id", id.Hex(), "time_locked", t.entry.TimeLocked.Hex())
			m.journalTransition(ctx, t)
			continue
		}

		wallNow := m.wall.Now()
		if wallNow.Before(t.nextAttempt) {
			continue
		}
		t.attempts++

		receipt, err := m.reclaimer.Reclaim(ctx, id)
		switch {
		case err == nil:
			var blockHash ledger.Hash
			if receipt != nil && receipt.Block != nil {
				blockHash = receipt.Block.Hash
			}
			m.logger.Info("htlc reclaimed", "htlc_id", id.Hex(), "block", blockHash.Hex(), "attempts", t.attempts)
			m.resolve(ctx, t, Event{ID: id, Outcome: OutcomeReclaimed, BlockHash: blockHash, Terminal: true})
		case errors.Is(err, htlcerr.ErrHtlcNotFound):
			// Removed by a call that may still be queued or unsettled.
			t.state = StateVanished
			t.vanishedErr = err
			m.logger.Warn("htlc vanished before reclaim, waiting for the resolving call", "htlc_id", id.Hex())
			m.journalTransition(ctx, t)
		default:
			delay := t.backoff.NextBackOff()
			t.nextAttempt = wallNow.Add(delay)
			m.logger.Warn("reclaim failed",
				"htlc_id", id.Hex(),
				"attempt", t.attempts,
				"retry_in", delay,
				"error", err)
			m.emit(ctx, Event{ID: id, Outcome: OutcomeError, Err: err})
		}
	}
}

// drain processes the blocks queued when the pass starts. Blocks requeued
// during the pass wait for the next cycle.
func (m *Monitor) drain(ctx context.Context) {
	n := m.queue.Len()
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		p, ok := m.queue.TryPop()
		if !ok {
			return
		}

		block, err := m.node.GetAccountBlockByHash(ctx, p.hash)
		if err != nil {
			// Keep per-hash order: nothing behind this block is fetched
			// until it succeeds.
			m.queue.PushFront(p)
			m.logger.Warn("block fetch failed", "block", p.hash.Hex(), "error", err)
			return
		}
		m.process(ctx, p, block)
	}
}

// process applies one fetched block to the tracked entries.
func (m *Monitor) process(ctx context.Context, p pending, block *ledger.AccountBlock) {
	if block == nil {
		m.postpone(p, "block not yet visible")
		return
	}
	if block.BlockType != ledger.BlockTypeUserSend || block.ToAddress != m.contract {
		m.discard(p.hash, "not a contract call")
		return
	}
	call, err := contract.Decode(block.Data)
	if err != nil {
		m.discard(p.hash, fmt.Sprintf("undecodable: %v", err))
		return
	}

	var id ledger.Hash
	switch c := call.(type) {
	case contract.UnlockCall:
		id = c.ID
	case contract.ReclaimCall:
		id = c.ID
	default:
		m.discard(p.hash, call.Method())
		return
	}

	t, ok := m.entries[id]
	if !ok || !t.state.matches(call) {
		m.discard(p.hash, "no matching entry")
		return
	}
	if !block.Settled() {
		m.postpone(p, "not settled")
		return
	}

	switch c := call.(type) {
	case contract.UnlockCall:
		if !paysOut(block, t.entry, t.entry.HashLocked) {
			m.discard(p.hash, "settlement does not pay hash locked")
			return
		}
		ok, err := hashlock.Verify(c.Preimage, t.entry.HashLock)
		if err != nil || !ok {
			m.discard(p.hash, "preimage does not match hash lock")
			return
		}
		m.logger.Info("htlc unlocked by counterparty", "htlc_id", id.Hex(), "block", block.Hash.Hex())
		m.resolve(ctx, t, Event{
			ID:        id,
			Outcome:   OutcomeUnlocked,
			Preimage:  append([]byte(nil), c.Preimage...),
			BlockHash: block.Hash,
			Terminal:  true,
		})
	case contract.ReclaimCall:
		if !paysOut(block, t.entry, t.entry.TimeLocked) {
			m.discard(p.hash, "settlement does not pay time locked")
			return
		}
		m.logger.Info("htlc reclaimed by counterparty", "htlc_id", id.Hex(), "block", block.Hash.Hex())
		m.resolve(ctx, t, Event{ID: id, Outcome: OutcomeReclaimed, BlockHash: block.Hash, Terminal: true})
	}
	m.seen.Add(p.hash, struct{}{})
}

// sweep reports vanished entries whose resolving call never showed up
// within settleRetries cycles.
func (m *Monitor) sweep(ctx context.Context) {
	for _, id := range m.sortedIDs() {
		t := m.entries[id]
		if t.state != StateVanished {
			continue
		}
		t.vanishedCycles++
		if t.vanishedCycles <= m.settleRetries {
			continue
		}
		m.logger.Warn("no resolving call observed for vanished htlc", "htlc_id", id.Hex(), "cycles", t.vanishedCycles)
		m.resolve(ctx, t, Event{ID: id, Outcome: OutcomeError, Err: t.vanishedErr, Terminal: true})
	}
}

// paysOut reports whether a settlement of block transfers e's funds to to.
func paysOut(block *ledger.AccountBlock, e *htlc.Entry, to ledger.Address) bool {
	for _, s := range block.Settlements() {
		if s == nil || s.ToAddress != to || s.TokenStandard != e.TokenStandard {
			continue
		}
		if s.Amount != nil && e.Amount != nil && s.Amount.Cmp(e.Amount) == 0 {
			return true
		}
	}
	return false
}

// postpone requeues p for the next cycle until settleRetries is exhausted.
func (m *Monitor) postpone(p pending, reason string) {
	if p.deferrals >= m.settleRetries {
		m.discard(p.hash, reason+", retries exhausted")
		return
	}
	p.deferrals++
	m.logger.Debug("block deferred", "block", p.hash.Hex(), "reason", reason, "deferrals", p.deferrals)
	m.queue.Requeue(p)
}

func (m *Monitor) discard(hash ledger.Hash, reason string) {
	m.seen.Add(hash, struct{}{})
	m.logger.Debug("block discarded", "block", hash.Hex(), "reason", reason)
}

// resolve removes t from the loop and reports ev.
func (m *Monitor) resolve(ctx context.Context, t *tracked, ev Event) {
	t.state = StateResolved
	m.journalTransition(ctx, t)
	delete(m.entries, t.entry.ID)
	m.emit(ctx, ev)
}

// emit stamps ev, journals it and publishes it. Blocks while the stream is
// full unless ctx is cancelled.
func (m *Monitor) emit(ctx context.Context, ev Event) {
	ev.Seq = m.clock.Next()

	if m.journal != nil {
		o := store.Outcome{
			Seq:       ev.Seq,
			RunID:     m.runID,
			HtlcID:    ev.ID,
			Outcome:   string(ev.Outcome),
			Preimage:  ev.Preimage,
			BlockHash: ev.BlockHash,
			Error:     ev.errString(),
			Terminal:  ev.Terminal,
		}
		if err := m.journal.WriteOutcome(ctx, o); err != nil {
			m.logger.Warn("journal write failed", "seq", ev.Seq, "htlc_id", ev.ID.Hex(), "error", err)
		}
	}

	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Monitor) journalTransition(ctx context.Context, t *tracked) {
	if m.journal == nil {
		return
	}
	tr := store.Transition{
		HtlcID:         t.entry.ID,
		RunID:          m.runID,
		State:          t.state.String(),
		TimeLocked:     t.entry.TimeLocked,
		HashLocked:     t.entry.HashLocked,
		ExpirationTime: t.entry.ExpirationTime,
		Seq:            m.clock.Next(),
	}
	if err := m.journal.WriteTransition(ctx, tr); err != nil {
		m.logger.Warn("journal write failed", "htlc_id", t.entry.ID.Hex(), "state", tr.State, "error", err)
	}
}

func (m *Monitor) sortedIDs() []ledger.Hash {
	ids := make([]ledger.Hash, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ledger.Hash) int { return bytes.Compare(a[:], b[:]) })
	return ids
}
