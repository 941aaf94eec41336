// Package export writes stored pipeline data as CSV for offline analysis.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/defi-pipeline/internal/models"
)

type TradeSource interface {
	All(ctx context.Context) ([]models.Trade, error)
}

type WalletSource interface {
	All(ctx context.Context) ([]models.WalletStat, error)
}

type TokenSource interface {
	All(ctx context.Context) ([]models.TokenInfo, error)
}

// Trades writes every stored trade, ordered by block number then log index.
func Trades(ctx context.Context, src TradeSource, w io.Writer) error {
	trades, err := src.All(ctx)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}

	cw := csv.NewWriter(w)
	header := []string{
		"block_number", "transaction_hash", "log_index", "pair_address",
		"sender", "to", "amount0_in", "amount1_in", "amount0_out", "amount1_out",
		"token0_address", "token1_address", "block_timestamp", "gas_price", "gas_used",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, t := range trades {
		row := []string{
			strconv.FormatUint(t.BlockNumber, 10),
			t.TxHash.Hex(),
			strconv.FormatUint(uint64(t.LogIndex), 10),
			t.PairAddress.Hex(),
			t.Sender.Hex(),
			t.To.Hex(),
			bigText(t.Amount0In),
			bigText(t.Amount1In),
			bigText(t.Amount0Out),
			bigText(t.Amount1Out),
			optAddrHex(t.Token0Address),
			optAddrHex(t.Token1Address),
			strconv.FormatUint(t.Timestamp, 10),
			strconv.FormatUint(t.GasPrice, 10),
			strconv.FormatUint(t.GasUsed, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Wallets writes the per-wallet aggregates.
func Wallets(ctx context.Context, src WalletSource, w io.Writer) error {
	wallets, err := src.All(ctx)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "total_trades", "first_trade_timestamp", "last_trade_timestamp"}); err != nil {
		return err
	}
	for _, ws := range wallets {
		row := []string{
			ws.Address.Hex(),
			strconv.FormatUint(ws.TotalTrades, 10),
			strconv.FormatUint(ws.FirstTradeTime, 10),
			strconv.FormatUint(ws.LastTradeTime, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Tokens writes the cached token metadata.
func Tokens(ctx context.Context, src TokenSource, w io.Writer) error {
	tokens, err := src.All(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "symbol", "name", "decimals", "total_supply"}); err != nil {
		return err
	}
	for _, tk := range tokens {
		row := []string{
			tk.Address.Hex(),
			tk.Symbol,
			tk.Name,
			strconv.FormatUint(uint64(tk.Decimals), 10),
			bigText(tk.TotalSupply),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optAddrHex(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}
