package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/defi-pipeline/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// RefreshWalletStats recomputes every wallet row from the trades table:
// trade count plus min/max block timestamp, grouped by sender. Wallet rows
// are created on a sender's first trade and updated in place afterwards,
// never deleted. Runs once per pipeline invocation, so the full recompute
// is acceptable.
func (r *WalletRepo) RefreshWalletStats(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallets (address, total_trades, first_trade_timestamp, last_trade_timestamp)
		SELECT sender, COUNT(*), MIN(block_timestamp), MAX(block_timestamp)
		FROM trades
		GROUP BY sender
		ON CONFLICT (address) DO UPDATE SET
			total_trades = EXCLUDED.total_trades,
			first_trade_timestamp = EXCLUDED.first_trade_timestamp,
			last_trade_timestamp = EXCLUDED.last_trade_timestamp`,
	)
	if err != nil {
		return fmt.Errorf("refresh wallet stats: %w", err)
	}
	return nil
}

// Get returns the aggregate for one wallet, or nil if it has never traded.
func (r *WalletRepo) Get(ctx context.Context, addr common.Address) (*models.WalletStat, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT address, total_trades, first_trade_timestamp, last_trade_timestamp, created_at
		 FROM wallets WHERE address = $1`,
		addrText(addr),
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// Top returns wallets by descending trade count. Ordering between wallets
// with equal counts is unspecified.
func (r *WalletRepo) Top(ctx context.Context, limit int) ([]models.WalletStat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT address, total_trades, first_trade_timestamp, last_trade_timestamp, created_at
		 FROM wallets
		 ORDER BY total_trades DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWallets(rows)
}

// All returns every wallet row, used by the CSV exporter.
func (r *WalletRepo) All(ctx context.Context) ([]models.WalletStat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT address, total_trades, first_trade_timestamp, last_trade_timestamp, created_at
		 FROM wallets ORDER BY address ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWallets(rows)
}

func scanWallet(row scannable) (*models.WalletStat, error) {
	var (
		w           models.WalletStat
		addr        string
		first, last *int64
		createdAt   time.Time
	)
	if err := row.Scan(&addr, &w.TotalTrades, &first, &last, &createdAt); err != nil {
		return nil, err
	}
	w.Address = common.HexToAddress(addr)
	if first != nil {
		w.FirstTradeTime = uint64(*first)
	}
	if last != nil {
		w.LastTradeTime = uint64(*last)
	}
	w.CreatedAt = createdAt
	return &w, nil
}

func collectWallets(rows rowsIter) ([]models.WalletStat, error) {
	var out []models.WalletStat
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
