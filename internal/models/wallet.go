package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// WalletStat is the per-sender aggregate derived from the trades table.
// It is never written by ingestion directly; RefreshWalletStats recomputes it.
type WalletStat struct {
	Address        common.Address `json:"address"`
	TotalTrades    uint64         `json:"totalTrades"`
	FirstTradeTime uint64         `json:"firstTradeTimestamp"`
	LastTradeTime  uint64         `json:"lastTradeTimestamp"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// DailyVolume is one row of the trailing-window volume report.
type DailyVolume struct {
	Date          string `json:"date"` // YYYY-MM-DD, UTC
	TradeCount    uint64 `json:"tradeCount"`
	UniqueWallets uint64 `json:"uniqueWallets"`
	UniquePairs   uint64 `json:"uniquePairs"`
}

// PairActivity is one row of the top-pairs report. Ordering between pairs
// with equal trade counts is unspecified.
type PairActivity struct {
	PairAddress   common.Address `json:"pairAddress"`
	TradeCount    uint64         `json:"tradeCount"`
	UniqueTraders uint64         `json:"uniqueTraders"`
}
