package htlc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/signer"
)

// Ledger is the subset of the node the lifecycle operations need.
type Ledger interface {
	ledger.MomentumSource
	ledger.BalanceSource
	ledger.Submitter

	// GetHtlcByID returns the live entry, or (nil, nil) when the contract
	// holds no entry with that id.
	GetHtlcByID(ctx context.Context, id ledger.Hash) (*Entry, error)

	// GetProxyUnlockStatus reports whether addr allows proxy unlocks.
	GetProxyUnlockStatus(ctx context.Context, addr ledger.Address) (bool, error)
}

// Service runs lifecycle operations on behalf of one local identity.
type Service struct {
	signer signer.Signer
	ledger Ledger
	cfg    Config
	ids    RequestIDGenerator
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithRequestIDs sets the request id generator. Defaults to UUIDv7.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// NewService creates a Service. cfg is validated.
func NewService(sgn signer.Signer, l Ledger, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid htlc config: %w", err)
	}
	s := &Service{
		signer: sgn,
		ledger: l,
		cfg:    cfg,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the local identity.
func (s *Service) Address() ledger.Address {
	return s.signer.Address()
}

// Config returns the validation bounds in use.
func (s *Service) Config() Config {
	return s.cfg
}

// Receipt is the result of a submitted operation.
type Receipt struct {
	Operation *ledger.Operation
	Block     *ledger.AccountBlock
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	HashLocked    ledger.Address
	TokenStandard ledger.TokenStandard // empty means the default token
	Amount        *big.Int
	Duration      time.Duration
	HashType      hashlock.HashType

	// HashLock is an existing digest. When set the creator does not know the
	// preimage and none is generated.
	HashLock []byte

	// PreimageLength is the length of the generated preimage. Zero means the
	// configured default. Ignored when HashLock is set.
	PreimageLength int
}

// CreateResult is the outcome of Create.
type CreateResult struct {
	Receipt

	// Entry is the projected entry. Its ID is the Create operation hash.
	Entry *Entry

	// Preimage is the generated secret. It is not stored anywhere else and
	// cannot be recovered: the caller must persist it. Nil when the caller
	// supplied a hash lock.
	Preimage []byte
}

// Create validates params, locks Amount under a hash lock and submits the
// Create operation.
func (s *Service) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if ledger.IsZero(p.HashLocked) || ledger.IsEmbedded(p.HashLocked) {
		return nil, htlcerr.New(htlcerr.CodeInvalidAddress, "hash locked address %s must be a user address", p.HashLocked.Hex())
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, htlcerr.New(htlcerr.CodeInvalidAmount, "amount must be positive")
	}
	if p.Duration < s.cfg.MinDuration || p.Duration > s.cfg.MaxDuration {
		return nil, htlcerr.New(htlcerr.CodeInvalidDuration, "duration %s outside [%s, %s]",
			p.Duration, s.cfg.MinDuration, s.cfg.MaxDuration)
	}
	if !p.HashType.Valid() {
		return nil, htlcerr.New(htlcerr.CodeUnsupportedHashType, "hash type %d is not supported", uint8(p.HashType))
	}
	token := p.TokenStandard
	if token == "" {
		token = s.cfg.DefaultToken
	}

	var (
		lock       hashlock.HashLock
		preimage   []byte
		keyMaxSize int
		err        error
	)
	if p.HashLock != nil {
		lock, err = hashlock.FromBytes(p.HashLock, p.HashType)
		if err != nil {
			return nil, err
		}
		keyMaxSize = s.cfg.PreimageMaxLength
	} else {
		n := p.PreimageLength
		if n == 0 {
			n = s.cfg.PreimageDefaultLength
		}
		if n < s.cfg.PreimageMinLength || n > s.cfg.PreimageMaxLength {
			return nil, htlcerr.New(htlcerr.CodeInvalidPreimageLength, "preimage length %d outside [%d, %d]",
				n, s.cfg.PreimageMinLength, s.cfg.PreimageMaxLength)
		}
		preimage, err = hashlock.GeneratePreimage(n)
		if err != nil {
			return nil, err
		}
		lock, err = hashlock.Digest(preimage, p.HashType)
		if err != nil {
			return nil, err
		}
		keyMaxSize = n
	}

	balance, err := s.ledger.GetBalance(ctx, s.Address(), token)
	if err != nil {
		return nil, htlcerr.Network(err, "get balance")
	}
	if balance == nil || balance.Cmp(p.Amount) < 0 {
		return nil, htlcerr.New(htlcerr.CodeInsufficientBalance, "balance %s is below amount %s of %s",
			bigString(balance), p.Amount, token)
	}

	frontier, err := s.ledger.GetFrontierMomentum(ctx)
	if err != nil {
		return nil, htlcerr.Network(err, "get frontier momentum")
	}
	expiration := frontier.Timestamp + int64(p.Duration/time.Second)

	call := contract.CreateCall{
		HashLocked:     p.HashLocked,
		ExpirationTime: expiration,
		HashType:       p.HashType,
		KeyMaxSize:     uint8(keyMaxSize),
		HashLock:       lock.Bytes(),
	}
	op, err := s.build(call, token, p.Amount, frontier.Height)
	if err != nil {
		return nil, err
	}
	id, err := op.Hash()
	if err != nil {
		return nil, err
	}

	block, err := s.submit(ctx, op)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:             id,
		TimeLocked:     s.Address(),
		HashLocked:     p.HashLocked,
		TokenStandard:  token,
		Amount:         new(big.Int).Set(p.Amount),
		ExpirationTime: expiration,
		HashLock:       lock,
		KeyMaxSize:     uint8(keyMaxSize),
	}
	s.logger.Info("htlc created",
		"id", id.Hex(),
		"request_id", op.RequestID,
		"hash_locked", p.HashLocked.Hex(),
		"amount", p.Amount.String(),
		"token", string(token),
		"expiration", entry.Expiration().Format(time.RFC3339),
		"hash_type", p.HashType.String())

	return &CreateResult{
		Receipt:  Receipt{Operation: op, Block: block},
		Entry:    entry,
		Preimage: preimage,
	}, nil
}

// Reclaim returns an expired entry's funds to its timeLocked address.
//
// Checks run in order: the entry must exist, the caller must be timeLocked
// (whether or not the entry has expired), and the entry must have expired.
func (s *Service) Reclaim(ctx context.Context, id ledger.Hash) (*Receipt, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.TimeLocked != s.Address() {
		return nil, htlcerr.New(htlcerr.CodePermissionDenied, "only %s may reclaim", entry.TimeLocked.Hex()).WithID(id)
	}

	frontier, err := s.ledger.GetFrontierMomentum(ctx)
	if err != nil {
		return nil, htlcerr.Network(err, "get frontier momentum").WithID(id)
	}
	if !entry.Expired(frontier.Timestamp) {
		return nil, htlcerr.NotYetExpired(id, entry.Remaining(frontier.Timestamp))
	}

	op, err := s.build(contract.ReclaimCall{ID: id}, s.cfg.DefaultToken, new(big.Int), frontier.Height)
	if err != nil {
		return nil, err
	}
	block, err := s.submit(ctx, op)
	if err != nil {
		return nil, err
	}

	s.logger.Info("htlc reclaimed", "id", id.Hex(), "request_id", op.RequestID)
	return &Receipt{Operation: op, Block: block}, nil
}

// Unlock releases an entry's funds to its hashLocked address by revealing
// the preimage.
//
// The preimage is published in cleartext once the operation lands.
func (s *Service) Unlock(ctx context.Context, id ledger.Hash, preimage []byte) (*Receipt, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	frontier, err := s.ledger.GetFrontierMomentum(ctx)
	if err != nil {
		return nil, htlcerr.Network(err, "get frontier momentum").WithID(id)
	}
	if entry.Expired(frontier.Timestamp) {
		return nil, htlcerr.New(htlcerr.CodeExpired, "htlc expired at %s",
			entry.Expiration().Format(time.RFC3339)).WithID(id)
	}

	if entry.HashLocked != s.Address() {
		allowed, err := s.ProxyUnlockStatus(ctx, entry.HashLocked)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, htlcerr.New(htlcerr.CodePermissionDenied,
				"%s has not allowed proxy unlock", entry.HashLocked.Hex()).WithID(id)
		}
	}

	if len(preimage) < s.cfg.PreimageMinLength || len(preimage) > int(entry.KeyMaxSize) {
		return nil, htlcerr.New(htlcerr.CodeInvalidPreimageLength, "preimage length %d outside [%d, %d]",
			len(preimage), s.cfg.PreimageMinLength, entry.KeyMaxSize).WithID(id)
	}
	ok, err := hashlock.Verify(preimage, entry.HashLock)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, htlcerr.New(htlcerr.CodePreimageMismatch, "preimage does not match %s", entry.HashLock).WithID(id)
	}

	op, err := s.build(contract.UnlockCall{ID: id, Preimage: preimage}, s.cfg.DefaultToken, new(big.Int), frontier.Height)
	if err != nil {
		return nil, err
	}
	block, err := s.submit(ctx, op)
	if err != nil {
		return nil, err
	}

	s.logger.Info("htlc unlocked", "id", id.Hex(), "request_id", op.RequestID, "proxy", entry.HashLocked != s.Address())
	return &Receipt{Operation: op, Block: block}, nil
}

// AllowProxyUnlock lets any party unlock entries hash-locked to the local
// identity.
func (s *Service) AllowProxyUnlock(ctx context.Context) (*Receipt, error) {
	return s.proxyCall(ctx, contract.AllowProxyUnlockCall{})
}

// DenyProxyUnlock revokes AllowProxyUnlock.
func (s *Service) DenyProxyUnlock(ctx context.Context) (*Receipt, error) {
	return s.proxyCall(ctx, contract.DenyProxyUnlockCall{})
}

func (s *Service) proxyCall(ctx context.Context, call contract.Call) (*Receipt, error) {
	frontier, err := s.ledger.GetFrontierMomentum(ctx)
	if err != nil {
		return nil, htlcerr.Network(err, "get frontier momentum")
	}
	op, err := s.build(call, s.cfg.DefaultToken, new(big.Int), frontier.Height)
	if err != nil {
		return nil, err
	}
	block, err := s.submit(ctx, op)
	if err != nil {
		return nil, err
	}
	s.logger.Info("proxy unlock updated", "method", call.Method(), "address", s.Address().Hex())
	return &Receipt{Operation: op, Block: block}, nil
}

// Get returns the live entry or HTLC_NOT_FOUND.
func (s *Service) Get(ctx context.Context, id ledger.Hash) (*Entry, error) {
	entry, err := s.ledger.GetHtlcByID(ctx, id)
	if err != nil {
		return nil, htlcerr.Network(err, "get htlc").WithID(id)
	}
	if entry == nil {
		return nil, htlcerr.New(htlcerr.CodeHtlcNotFound, "no such htlc").WithID(id)
	}
	return entry, nil
}

// ProxyUnlockStatus reports whether addr allows proxy unlocks.
func (s *Service) ProxyUnlockStatus(ctx context.Context, addr ledger.Address) (bool, error) {
	allowed, err := s.ledger.GetProxyUnlockStatus(ctx, addr)
	if err != nil {
		return false, htlcerr.Network(err, "get proxy unlock status")
	}
	return allowed, nil
}

// build encodes call into a signed operation addressed to the contract.
func (s *Service) build(call contract.Call, token ledger.TokenStandard, amount *big.Int, height uint64) (*ledger.Operation, error) {
	data, err := call.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", call.Method(), err)
	}
	op := &ledger.Operation{
		RequestID:      s.ids.Generate(),
		ToAddress:      s.cfg.ContractAddress,
		TokenStandard:  token,
		Amount:         amount,
		Data:           data,
		MomentumHeight: height,
	}
	if err := s.signer.Sign(op); err != nil {
		return nil, fmt.Errorf("sign %s: %w", call.Method(), err)
	}
	return op, nil
}

func (s *Service) submit(ctx context.Context, op *ledger.Operation) (*ledger.AccountBlock, error) {
	block, err := s.ledger.Submit(ctx, op)
	if err != nil {
		// Submission layers may already classify their failures.
		var herr *htlcerr.Error
		if errors.As(err, &herr) {
			return nil, err
		}
		return nil, htlcerr.Network(err, "submit operation")
	}
	s.logger.Debug("operation submitted", "request_id", op.RequestID)
	return block, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
