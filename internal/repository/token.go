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

type TokenRepo struct {
	pool *pgxpool.Pool
}

func NewTokenRepo(pool *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{pool: pool}
}

// Upsert records token metadata, keeping the first version seen. The tokens
// table is a lazy cache independent of the trade lifecycle.
func (r *TokenRepo) Upsert(ctx context.Context, info *models.TokenInfo) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tokens (address, symbol, name, decimals, total_supply)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (address) DO NOTHING`,
		addrText(info.Address), info.Symbol, info.Name, int16(info.Decimals), numeric(info.TotalSupply),
	)
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", info.Address.Hex(), err)
	}
	return nil
}

// Get returns cached metadata for a token, or nil if never looked up.
func (r *TokenRepo) Get(ctx context.Context, addr common.Address) (*models.TokenInfo, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT address, symbol, name, decimals, total_supply::text, created_at
		 FROM tokens WHERE address = $1`,
		addrText(addr),
	)
	info, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

// All returns every cached token, used by the CSV exporter.
func (r *TokenRepo) All(ctx context.Context) ([]models.TokenInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT address, symbol, name, decimals, total_supply::text, created_at
		 FROM tokens ORDER BY address ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TokenInfo
	for rows.Next() {
		info, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, rows.Err()
}

func scanToken(row scannable) (*models.TokenInfo, error) {
	var (
		info      models.TokenInfo
		addr      string
		decimals  int16
		supply    string
		createdAt time.Time
	)
	if err := row.Scan(&addr, &info.Symbol, &info.Name, &decimals, &supply, &createdAt); err != nil {
		return nil, err
	}
	info.Address = common.HexToAddress(addr)
	info.Decimals = uint8(decimals)
	info.CreatedAt = createdAt

	var err error
	if info.TotalSupply, err = bigFromText(supply); err != nil {
		return nil, err
	}
	return &info, nil
}
