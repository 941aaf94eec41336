package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/defi-pipeline/internal/models"
)

type TradeRepo struct {
	pool *pgxpool.Pool
}

func NewTradeRepo(pool *pgxpool.Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

const insertTradeSQL = `
	INSERT INTO trades
	 (block_number, transaction_hash, log_index, pair_address, sender, to_address,
	  amount0_in, amount1_in, amount0_out, amount1_out,
	  token0_address, token1_address, block_timestamp, gas_price, gas_used)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT ON CONSTRAINT trades_tx_log_unique DO NOTHING`

// UpsertTrades inserts trades keyed by (transaction_hash, log_index) and
// returns how many rows were actually inserted. Re-inserting an existing key
// is a no-op, which is what makes overlapping-range re-runs safe. Any
// database error is fatal for the run and propagated.
func (r *TradeRepo) UpsertTrades(ctx context.Context, trades []models.Trade) (int, error) {
	inserted := 0
	for i := range trades {
		t := &trades[i]
		tag, err := r.pool.Exec(ctx, insertTradeSQL,
			int64(t.BlockNumber), hashText(t.TxHash), int32(t.LogIndex),
			addrText(t.PairAddress), addrText(t.Sender), addrText(t.To),
			numeric(t.Amount0In), numeric(t.Amount1In), numeric(t.Amount0Out), numeric(t.Amount1Out),
			optAddrText(t.Token0Address), optAddrText(t.Token1Address),
			int64(t.Timestamp), int64(t.GasPrice), int64(t.GasUsed),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert trade %s[%d]: %w", t.TxHash.Hex(), t.LogIndex, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// UpdatePairTokens backfills token addresses on rows ingested before the
// pair lookup succeeded.
func (r *TradeRepo) UpdatePairTokens(ctx context.Context, pair, token0, token1 common.Address) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE trades SET token0_address = $2, token1_address = $3
		 WHERE pair_address = $1 AND token0_address IS NULL`,
		addrText(pair), addrText(token0), addrText(token1),
	)
	if err != nil {
		return fmt.Errorf("update pair tokens for %s: %w", pair.Hex(), err)
	}
	return nil
}

// MaxBlockNumber returns the highest ingested block, or ok=false on an
// empty table. The scheduler resumes from here.
func (r *TradeRepo) MaxBlockNumber(ctx context.Context) (uint64, bool, error) {
	var max *int64
	err := r.pool.QueryRow(ctx, `SELECT MAX(block_number) FROM trades`).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("max block number: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return uint64(*max), true, nil
}

const selectTradeColumns = `
	id, block_number, transaction_hash, log_index, pair_address, sender, to_address,
	amount0_in::text, amount1_in::text, amount0_out::text, amount1_out::text,
	token0_address, token1_address, block_timestamp, gas_price, gas_used, created_at`

// All returns every trade ordered by block then log index. Used by the CSV
// exporter; ingestion never reads trades back.
func (r *TradeRepo) All(ctx context.Context) ([]models.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectTradeColumns+` FROM trades ORDER BY block_number ASC, log_index ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

// DailyVolume reports per-day trade activity within a trailing window of
// the given number of days, oldest day first.
func (r *TradeRepo) DailyVolume(ctx context.Context, days int) ([]models.DailyVolume, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT to_char(to_timestamp(block_timestamp) AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		        COUNT(*), COUNT(DISTINCT sender), COUNT(DISTINCT pair_address)
		 FROM trades
		 WHERE to_timestamp(block_timestamp) >= NOW() - make_interval(days => $1)
		 GROUP BY day
		 ORDER BY day ASC`,
		days,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DailyVolume
	for rows.Next() {
		var d models.DailyVolume
		if err := rows.Scan(&d.Date, &d.TradeCount, &d.UniqueWallets, &d.UniquePairs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TopPairs returns the most active pairs by trade count. Ordering between
// pairs with equal counts is unspecified.
func (r *TradeRepo) TopPairs(ctx context.Context, limit int) ([]models.PairActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT pair_address, COUNT(*), COUNT(DISTINCT sender)
		 FROM trades
		 GROUP BY pair_address
		 ORDER BY COUNT(*) DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PairActivity
	for rows.Next() {
		var p models.PairActivity
		var pair string
		if err := rows.Scan(&pair, &p.TradeCount, &p.UniqueTraders); err != nil {
			return nil, err
		}
		p.PairAddress = common.HexToAddress(pair)
		out = append(out, p)
	}
	return out, rows.Err()
}

func collectTrades(rows rowsIter) ([]models.Trade, error) {
	var out []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrade(row scannable) (*models.Trade, error) {
	var (
		t                          models.Trade
		blockNumber                int64
		txHash, pair, sender, to   string
		a0in, a1in, a0out, a1out   string
		token0, token1             *string
		blockTime, gasPrice, gasUsed int64
		logIndex                   int32
		createdAt                  time.Time
	)
	err := row.Scan(
		&t.ID, &blockNumber, &txHash, &logIndex, &pair, &sender, &to,
		&a0in, &a1in, &a0out, &a1out,
		&token0, &token1, &blockTime, &gasPrice, &gasUsed, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	t.BlockNumber = uint64(blockNumber)
	t.TxHash = common.HexToHash(txHash)
	t.LogIndex = uint32(logIndex)
	t.PairAddress = common.HexToAddress(pair)
	t.Sender = common.HexToAddress(sender)
	t.To = common.HexToAddress(to)
	t.Token0Address = optAddr(token0)
	t.Token1Address = optAddr(token1)
	t.Timestamp = uint64(blockTime)
	t.GasPrice = uint64(gasPrice)
	t.GasUsed = uint64(gasUsed)
	t.CreatedAt = createdAt

	if t.Amount0In, err = bigFromText(a0in); err != nil {
		return nil, err
	}
	if t.Amount1In, err = bigFromText(a1in); err != nil {
		return nil, err
	}
	if t.Amount0Out, err = bigFromText(a0out); err != nil {
		return nil, err
	}
	if t.Amount1Out, err = bigFromText(a1out); err != nil {
		return nil, err
	}
	return &t, nil
}
