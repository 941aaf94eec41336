package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const UnknownSymbol = "UNKNOWN"

// TokenInfo is best-effort ERC20 metadata. A failed lookup is stored as the
// unknown sentinel rather than blocking ingestion.
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	Name        string         `json:"name"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *big.Int       `json:"totalSupply"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// UnknownToken is the sentinel recorded when the on-chain lookup fails.
func UnknownToken(addr common.Address) *TokenInfo {
	return &TokenInfo{
		Address:     addr,
		Symbol:      UnknownSymbol,
		Name:        "Unknown Token",
		Decimals:    18,
		TotalSupply: big.NewInt(0),
	}
}

func (t *TokenInfo) Unknown() bool {
	return t.Symbol == UnknownSymbol
}
