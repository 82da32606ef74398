package ledger

import (
	"context"
	"math/big"
)

// BlockSource fetches account blocks. A missing block is (nil, nil).
type BlockSource interface {
	GetAccountBlockByHash(ctx context.Context, hash Hash) (*AccountBlock, error)
}

// MomentumSource returns the latest finalized momentum.
type MomentumSource interface {
	GetFrontierMomentum(ctx context.Context) (Momentum, error)
}

// Subscription is a live event subscription.
type Subscription interface {
	Unsubscribe()

	// Err is closed when the subscription ends. If the node ended it, the
	// cause is sent first; Unsubscribe closes it without a value.
	Err() <-chan error
}

// Subscriber delivers batches of account block events. Delivery is
// at-least-once: the callback must tolerate duplicates, and it runs on a
// goroutine owned by the subscriber.
type Subscriber interface {
	SubscribeToAccountBlocks(ctx context.Context, fn func([]BlockEvent)) (Subscription, error)
}

// Submitter publishes a signed operation and returns the resulting block.
type Submitter interface {
	Submit(ctx context.Context, op *Operation) (*AccountBlock, error)
}

// TokenSource looks up token metadata. A missing token is (nil, nil).
type TokenSource interface {
	GetTokenInfo(ctx context.Context, standard TokenStandard) (*TokenInfo, error)
}

// BalanceSource reports an address balance for one token.
type BalanceSource interface {
	GetBalance(ctx context.Context, addr Address, standard TokenStandard) (*big.Int, error)
}
