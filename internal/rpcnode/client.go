// Package rpcnode talks to a ledger node over JSON-RPC.
//
// Client implements every collaborator interface the HTLC core consumes:
// block and momentum queries, balances, token metadata, HTLC reads,
// operation submission and the account block subscription. Each call runs
// under the client's timeout and failures are classified as NETWORK.
//
// Subscriptions need a websocket or IPC endpoint; plain HTTP supports
// queries only.
package rpcnode

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
)

// DefaultTimeout bounds every call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

const subscriptionBuffer = 16

var errSubscriptionClosed = errors.New("subscription closed by node")

// Client is a JSON-RPC ledger client. Safe for concurrent use.
type Client struct {
	rpc     *rpc.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// Dial connects to url (ws://, wss://, http://, https:// or an IPC path).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := newClient(nil, opts...)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, htlcerr.Network(err, "dial "+url)
	}
	c.rpc = rc
	c.logger.Debug("connected to node", "url", url)
	return c, nil
}

// NewClient wraps an established rpc client.
func NewClient(rc *rpc.Client, opts ...Option) *Client {
	return newClient(rc, opts...)
}

func newClient(rc *rpc.Client, opts ...Option) *Client {
	c := &Client{
		rpc:     rc,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the connection and ends every subscription.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, args...)
	if err != nil {
		c.logger.Debug("rpc call failed", "method", method, "elapsed", time.Since(start), "error", err)
		return htlcerr.Network(err, method)
	}
	return nil
}

// GetAccountBlockByHash implements ledger.BlockSource.
func (c *Client) GetAccountBlockByHash(ctx context.Context, hash ledger.Hash) (*ledger.AccountBlock, error) {
	var out *blockJSON
	if err := c.call(ctx, &out, "ledger_getAccountBlockByHash", hash); err != nil {
		return nil, err
	}
	return out.block(), nil
}

// GetFrontierMomentum implements ledger.MomentumSource.
func (c *Client) GetFrontierMomentum(ctx context.Context) (ledger.Momentum, error) {
	var out *momentumJSON
	if err := c.call(ctx, &out, "ledger_getFrontierMomentum"); err != nil {
		return ledger.Momentum{}, err
	}
	if out == nil {
		return ledger.Momentum{}, htlcerr.Network(errors.New("empty response"), "ledger_getFrontierMomentum")
	}
	return ledger.Momentum{Height: out.Height, Hash: out.Hash, Timestamp: out.Timestamp}, nil
}

// GetBalance implements ledger.BalanceSource.
func (c *Client) GetBalance(ctx context.Context, addr ledger.Address, standard ledger.TokenStandard) (*big.Int, error) {
	var out *hexutil.Big
	if err := c.call(ctx, &out, "ledger_getBalance", addr, string(standard)); err != nil {
		return nil, err
	}
	return bigOf(out), nil
}

// GetTokenInfo implements ledger.TokenSource.
func (c *Client) GetTokenInfo(ctx context.Context, standard ledger.TokenStandard) (*ledger.TokenInfo, error) {
	var out *tokenJSON
	if err := c.call(ctx, &out, "token_getByStandard", string(standard)); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return &ledger.TokenInfo{
		Standard: ledger.TokenStandard(out.TokenStandard),
		Symbol:   out.Symbol,
		Name:     out.Name,
		Decimals: out.Decimals,
	}, nil
}

// GetHtlcByID implements htlc.Ledger.
func (c *Client) GetHtlcByID(ctx context.Context, id ledger.Hash) (*htlc.Entry, error) {
	var out *htlcJSON
	if err := c.call(ctx, &out, "htlc_getById", id); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.entry()
}

// GetProxyUnlockStatus implements htlc.Ledger.
func (c *Client) GetProxyUnlockStatus(ctx context.Context, addr ledger.Address) (bool, error) {
	var allowed bool
	if err := c.call(ctx, &allowed, "htlc_getProxyUnlockStatus", addr); err != nil {
		return false, err
	}
	return allowed, nil
}

// Submit implements ledger.Submitter. The node answers with the block it
// created for op.
func (c *Client) Submit(ctx context.Context, op *ledger.Operation) (*ledger.AccountBlock, error) {
	req, err := newOperationJSON(op)
	if err != nil {
		return nil, err
	}
	var out *blockJSON
	if err := c.call(ctx, &out, "ledger_publishRawTransaction", req); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, htlcerr.Network(errors.New("empty response"), "ledger_publishRawTransaction")
	}
	c.logger.Debug("operation published", "request_id", op.RequestID, "hash", out.Hash.Hex())
	return out.block(), nil
}

// SubscribeToAccountBlocks implements ledger.Subscriber. fn runs on a
// goroutine owned by the subscription, one batch at a time. The stream
// ends on Unsubscribe, on Close, or when the connection drops. A dropped
// connection is not retried; its cause is delivered on Err as a NETWORK
// error.
func (c *Client) SubscribeToAccountBlocks(ctx context.Context, fn func([]ledger.BlockEvent)) (ledger.Subscription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ch := make(chan []blockEventJSON, subscriptionBuffer)
	sub, err := c.rpc.Subscribe(ctx, "ledger", ch, "allAccountBlocks")
	if err != nil {
		return nil, htlcerr.Network(err, "ledger_subscribe")
	}

	s := &subscription{sub: sub, quit: make(chan struct{}), errc: make(chan error, 1)}
	go s.forward(ch, fn, c.logger)
	return s, nil
}

type subscription struct {
	sub  *rpc.ClientSubscription
	quit chan struct{}
	errc chan error
	once sync.Once
}

func (s *subscription) forward(ch <-chan []blockEventJSON, fn func([]ledger.BlockEvent), logger *slog.Logger) {
	defer close(s.errc)
	for {
		select {
		case batch := <-ch:
			events := make([]ledger.BlockEvent, len(batch))
			for i, ev := range batch {
				events[i] = ledger.BlockEvent{ToAddress: ev.ToAddress, Hash: ev.Hash}
			}
			fn(events)
		case err := <-s.sub.Err():
			select {
			case <-s.quit:
				return
			default:
			}
			if err == nil {
				err = errSubscriptionClosed
			}
			logger.Warn("account block subscription ended", "error", err)
			s.errc <- htlcerr.Network(err, "account block subscription")
			return
		case <-s.quit:
			return
		}
	}
}

// Err implements ledger.Subscription.
func (s *subscription) Err() <-chan error {
	return s.errc
}

// Unsubscribe ends the subscription. Safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.sub.Unsubscribe()
	})
}
