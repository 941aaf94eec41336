// Package scanner turns a block range into an ordered stream of decoded
// trades, absorbing provider range limits and per-log failures.
package scanner

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/defi-pipeline/internal/decoder"
	"github.com/kjannette/defi-pipeline/internal/ethereum"
	"github.com/kjannette/defi-pipeline/internal/models"
)

const (
	defaultBatchSize = 100
	defaultWorkers   = 8
)

// ChainClient is the slice of the RPC adapter the scanner drives. Retry and
// rate limiting live behind this interface.
type ChainClient interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, topic0 common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	Transaction(ctx context.Context, hash common.Hash) (*ethereum.TxContext, error)
	Receipt(ctx context.Context, hash common.Hash) (*ethereum.ReceiptContext, error)
}

type Config struct {
	BatchSize uint64 // blocks per getLogs query
	Workers   int    // concurrent context fetches within a batch
	Logger    *log.Logger
}

type Scanner struct {
	client    ChainClient
	batchSize uint64
	workers   int
	logger    *log.Logger
}

func New(client ChainClient, cfg Config) *Scanner {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{
		client:    client,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger,
	}
}

// Batch is one completed contiguous span of blocks. Batches arrive in
// strictly increasing block order, so a caller interrupted after a batch can
// resume from ToBlock+1.
type Batch struct {
	FromBlock uint64
	ToBlock   uint64
	Trades    []models.Trade

	LogsSeen     int
	DecodeSkips  int
	ContextSkips int
	FailedRanges []FailedRange
}

// FailedRange is a sub-span that still failed after retries and bisection.
// It is reported, never silently dropped.
type FailedRange struct {
	FromBlock uint64
	ToBlock   uint64
	Err       error
}

// Scan walks [fromBlock, toBlock] in fixed-size batches and hands each
// completed batch to emit. Batches are processed sequentially; an emit error
// stops the walk, and cancellation discards the batch in progress, so a
// partially assembled batch is never emitted.
func (s *Scanner) Scan(ctx context.Context, fromBlock, toBlock uint64, emit func(Batch) error) error {
	if fromBlock > toBlock {
		return fmt.Errorf("invalid block range [%d, %d]", fromBlock, toBlock)
	}

	for start := fromBlock; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + s.batchSize - 1
		if end < start || end > toBlock {
			end = toBlock
		}

		batch := Batch{FromBlock: start, ToBlock: end}
		logs := s.fetchLogs(ctx, start, end, &batch)
		s.assemble(ctx, logs, &batch)

		// Cancellation mid-batch makes in-flight context fetches fail and
		// would mislabel their logs as skips. Discard the partial batch so
		// the last emitted batch stays the resume point and those logs are
		// re-ingested on the next run.
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := emit(batch); err != nil {
			return err
		}

		if end == toBlock {
			return nil
		}
		start = end + 1
	}
}

// fetchLogs queries one span, recursively halving it while the provider
// rejects the width. At width 1 a rejection is final: the range is recorded
// as failed and the walk moves on.
func (s *Scanner) fetchLogs(ctx context.Context, from, to uint64, batch *Batch) []types.Log {
	logs, err := s.client.FilterLogs(ctx, from, to, decoder.SwapTopic)
	if err == nil {
		return logs
	}

	if ethereum.IsRangeTooLarge(err) && from < to {
		mid := from + (to-from)/2
		s.logger.Printf("[SCAN] range [%d, %d] too large for provider, bisecting at %d", from, to, mid)
		left := s.fetchLogs(ctx, from, mid, batch)
		right := s.fetchLogs(ctx, mid+1, to, batch)
		return append(left, right...)
	}

	s.logger.Printf("[SCAN] range [%d, %d] failed: %v", from, to, err)
	batch.FailedRanges = append(batch.FailedRanges, FailedRange{FromBlock: from, ToBlock: to, Err: err})
	return nil
}

// assemble fetches block/tx/receipt context for each log (bounded fan-out,
// deduplicated) and decodes in the original log order, so trades leave the
// scanner block-ordered regardless of worker interleaving.
func (s *Scanner) assemble(ctx context.Context, logs []types.Log, batch *Batch) {
	batch.LogsSeen = len(logs)
	if len(logs) == 0 {
		return
	}

	blockTimes, txCtxs, receipts := s.fetchContexts(ctx, logs)

	for _, lg := range logs {
		ts, haveBlock := blockTimes[lg.BlockNumber]
		tc, haveTx := txCtxs[lg.TxHash]
		rc, haveReceipt := receipts[lg.TxHash]
		if !haveBlock || !haveTx || !haveReceipt {
			batch.ContextSkips++
			continue
		}

		trade, err := decoder.Decode(lg, decoder.Context{
			Timestamp: ts,
			GasPrice:  tc.GasPrice,
			GasUsed:   rc.GasUsed,
		})
		if err != nil {
			s.logger.Printf("[SCAN] skipping log: %v", err)
			batch.DecodeSkips++
			continue
		}
		batch.Trades = append(batch.Trades, *trade)
	}
}

func (s *Scanner) fetchContexts(ctx context.Context, logs []types.Log) (map[uint64]uint64, map[common.Hash]*ethereum.TxContext, map[common.Hash]*ethereum.ReceiptContext) {
	blocks := make(map[uint64]struct{})
	hashes := make(map[common.Hash]struct{})
	for _, lg := range logs {
		blocks[lg.BlockNumber] = struct{}{}
		hashes[lg.TxHash] = struct{}{}
	}

	var mu sync.Mutex
	blockTimes := make(map[uint64]uint64, len(blocks))
	txCtxs := make(map[common.Hash]*ethereum.TxContext, len(hashes))
	receipts := make(map[common.Hash]*ethereum.ReceiptContext, len(hashes))

	var g errgroup.Group
	g.SetLimit(s.workers)

	for bn := range blocks {
		g.Go(func() error {
			ts, err := s.client.BlockTimestamp(ctx, bn)
			if err != nil {
				s.logger.Printf("[SCAN] block %d context fetch failed: %v", bn, err)
				return nil
			}
			mu.Lock()
			blockTimes[bn] = ts
			mu.Unlock()
			return nil
		})
	}

	for hash := range hashes {
		g.Go(func() error {
			tc, err := s.client.Transaction(ctx, hash)
			if err != nil {
				s.logger.Printf("[SCAN] tx %s context fetch failed: %v", hash.Hex(), err)
				return nil
			}
			rc, err := s.client.Receipt(ctx, hash)
			if err != nil {
				s.logger.Printf("[SCAN] receipt %s fetch failed: %v", hash.Hex(), err)
				return nil
			}
			mu.Lock()
			txCtxs[hash] = tc
			receipts[hash] = rc
			mu.Unlock()
			return nil
		})
	}

	// workers never return errors; failures degrade to per-log skips
	_ = g.Wait()

	return blockTimes, txCtxs, receipts
}
