package rpcnode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/ledger"
)

// Wire types. Quantities are hex (hexutil), addresses and hashes use the
// go-ethereum JSON encoding.

type confirmationJSON struct {
	MomentumHeight uint64      `json:"momentumHeight"`
	MomentumHash   common.Hash `json:"momentumHash"`
}

type blockJSON struct {
	Hash          common.Hash       `json:"hash"`
	BlockType     uint8             `json:"blockType"`
	Height        uint64            `json:"height"`
	Address       common.Address    `json:"address"`
	ToAddress     common.Address    `json:"toAddress"`
	Amount        *hexutil.Big      `json:"amount"`
	TokenStandard string            `json:"tokenStandard"`
	Data          hexutil.Bytes     `json:"data"`
	FromBlockHash common.Hash       `json:"fromBlockHash"`
	Confirmation  *confirmationJSON `json:"confirmationDetail,omitempty"`
	Paired        *blockJSON        `json:"pairedAccountBlock,omitempty"`
	Descendants   []*blockJSON      `json:"descendantBlocks,omitempty"`
}

func (j *blockJSON) block() *ledger.AccountBlock {
	if j == nil {
		return nil
	}
	b := &ledger.AccountBlock{
		Hash:          j.Hash,
		BlockType:     ledger.BlockType(j.BlockType),
		Height:        j.Height,
		Address:       j.Address,
		ToAddress:     j.ToAddress,
		Amount:        bigOf(j.Amount),
		TokenStandard: ledger.TokenStandard(j.TokenStandard),
		Data:          j.Data,
		FromBlockHash: j.FromBlockHash,
		Paired:        j.Paired.block(),
	}
	if j.Confirmation != nil {
		b.Confirmation = &ledger.Confirmation{
			MomentumHeight: j.Confirmation.MomentumHeight,
			MomentumHash:   j.Confirmation.MomentumHash,
		}
	}
	for _, d := range j.Descendants {
		b.Descendants = append(b.Descendants, d.block())
	}
	return b
}

type momentumJSON struct {
	Hash      common.Hash `json:"hash"`
	Height    uint64      `json:"height"`
	Timestamp int64       `json:"timestamp"`
}

type htlcJSON struct {
	ID             common.Hash    `json:"id"`
	TimeLocked     common.Address `json:"timeLocked"`
	HashLocked     common.Address `json:"hashLocked"`
	TokenStandard  string         `json:"tokenStandard"`
	Amount         *hexutil.Big   `json:"amount"`
	ExpirationTime int64          `json:"expirationTime"`
	HashType       uint8          `json:"hashType"`
	KeyMaxSize     uint8          `json:"keyMaxSize"`
	HashLock       hexutil.Bytes  `json:"hashLock"`
}

func (j *htlcJSON) entry() (*htlc.Entry, error) {
	lock, err := hashlock.FromBytes(j.HashLock, hashlock.HashType(j.HashType))
	if err != nil {
		return nil, err
	}
	return &htlc.Entry{
		ID:             j.ID,
		TimeLocked:     j.TimeLocked,
		HashLocked:     j.HashLocked,
		TokenStandard:  ledger.TokenStandard(j.TokenStandard),
		Amount:         bigOf(j.Amount),
		ExpirationTime: j.ExpirationTime,
		HashLock:       lock,
		KeyMaxSize:     j.KeyMaxSize,
	}, nil
}

type tokenJSON struct {
	TokenStandard string `json:"tokenStandard"`
	Symbol        string `json:"tokenSymbol"`
	Name          string `json:"tokenName"`
	Decimals      uint8  `json:"decimals"`
}

type blockEventJSON struct {
	ToAddress common.Address `json:"toAddress"`
	Hash      common.Hash    `json:"hash"`
}

type operationJSON struct {
	RequestID      string         `json:"requestId"`
	Address        common.Address `json:"address"`
	ToAddress      common.Address `json:"toAddress"`
	TokenStandard  string         `json:"tokenStandard"`
	Amount         *hexutil.Big   `json:"amount"`
	Data           hexutil.Bytes  `json:"data"`
	MomentumHeight uint64         `json:"momentumHeight"`
	PublicKey      hexutil.Bytes  `json:"publicKey"`
	Signature      hexutil.Bytes  `json:"signature"`
	Hash           common.Hash    `json:"hash"`
}

func newOperationJSON(op *ledger.Operation) (*operationJSON, error) {
	hash, err := op.Hash()
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if op.Amount != nil {
		amount.Set(op.Amount)
	}
	return &operationJSON{
		RequestID:      op.RequestID,
		Address:        op.Address,
		ToAddress:      op.ToAddress,
		TokenStandard:  string(op.TokenStandard),
		Amount:         (*hexutil.Big)(amount),
		Data:           op.Data,
		MomentumHeight: op.MomentumHeight,
		PublicKey:      op.PublicKey,
		Signature:      op.Signature,
		Hash:           hash,
	}, nil
}

// bigOf copies v, treating nil as zero.
func bigOf(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}
