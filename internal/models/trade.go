package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Trade is one decoded Uniswap V2 Swap event. Amounts are raw on-chain
// units (undecimalized); token decimals are not known at decode time.
type Trade struct {
	ID          int64          `json:"id"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint32         `json:"logIndex"`
	PairAddress common.Address `json:"pairAddress"`
	Sender      common.Address `json:"sender"`
	To          common.Address `json:"to"`
	Amount0In   *big.Int       `json:"amount0In"`
	Amount1In   *big.Int       `json:"amount1In"`
	Amount0Out  *big.Int       `json:"amount0Out"`
	Amount1Out  *big.Int       `json:"amount1Out"`

	// Populated only when the pair-contract lookup succeeds.
	Token0Address *common.Address `json:"token0Address,omitempty"`
	Token1Address *common.Address `json:"token1Address,omitempty"`

	Timestamp uint64    `json:"timestamp"` // seconds, from the containing block
	GasPrice  uint64    `json:"gasPrice"`
	GasUsed   uint64    `json:"gasUsed"`
	CreatedAt time.Time `json:"createdAt"`
}

// TradeKey is the natural uniqueness key of a trade. A transaction may
// contain multiple swap logs, so the hash alone is not enough.
type TradeKey struct {
	TxHash   common.Hash
	LogIndex uint32
}

func (t *Trade) Key() TradeKey {
	return TradeKey{TxHash: t.TxHash, LogIndex: t.LogIndex}
}
