// Package pipeline sequences scanning, persistence and aggregation. It is
// the only entry point reporting/export collaborators call into.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/defi-pipeline/internal/models"
	"github.com/kjannette/defi-pipeline/internal/scanner"
)

const defaultLookback = 100

// ChainReader resolves the chain head for "latest − N" ranges.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// TradeScanner yields decoded trades batch by batch in block order.
type TradeScanner interface {
	Scan(ctx context.Context, fromBlock, toBlock uint64, emit func(scanner.Batch) error) error
}

// TradeStore persists trades idempotently. Errors here are fatal for the
// run, unlike per-log decode or context failures.
type TradeStore interface {
	UpsertTrades(ctx context.Context, trades []models.Trade) (int, error)
	UpdatePairTokens(ctx context.Context, pair, token0, token1 common.Address) error
}

type WalletStore interface {
	RefreshWalletStats(ctx context.Context) error
}

type TokenStore interface {
	Upsert(ctx context.Context, info *models.TokenInfo) error
}

// TokenResolver is the best-effort metadata side channel. A nil resolver
// disables enrichment entirely.
type TokenResolver interface {
	PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error)
	TokenInfo(ctx context.Context, token common.Address) (*models.TokenInfo, error)
}

type Pipeline struct {
	chain    ChainReader
	scanner  TradeScanner
	trades   TradeStore
	wallets  WalletStore
	tokens   TokenStore
	resolver TokenResolver
	logger   *log.Logger
}

type Options struct {
	Chain    ChainReader
	Scanner  TradeScanner
	Trades   TradeStore
	Wallets  WalletStore
	Tokens   TokenStore
	Resolver TokenResolver // optional
	Logger   *log.Logger
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		chain:    opts.Chain,
		scanner:  opts.Scanner,
		trades:   opts.Trades,
		wallets:  opts.Wallets,
		tokens:   opts.Tokens,
		resolver: opts.Resolver,
		logger:   logger,
	}
}

// RunOptions selects the block range. With FromBlock unset the range covers
// the trailing Lookback blocks ending at ToBlock, or at the chain head when
// ToBlock is also unset.
type RunOptions struct {
	FromBlock *uint64
	ToBlock   *uint64
	Lookback  uint64
}

// Summary is what the orchestrator reports back. Inserted, skipped and
// failed counts are kept apart so operators can judge whether a re-run is
// needed.
type Summary struct {
	FromBlock uint64
	ToBlock   uint64

	LogsSeen          int
	TradesInserted    int
	DuplicatesSkipped int
	DecodeSkips       int
	ContextSkips      int
	FailedRanges      []scanner.FailedRange

	PairsEnriched int
	TokensCached  int
}

func (s *Summary) String() string {
	return fmt.Sprintf("blocks [%d, %d]: %d logs, %d inserted, %d duplicates, %d decode skips, %d context skips, %d failed ranges",
		s.FromBlock, s.ToBlock, s.LogsSeen, s.TradesInserted, s.DuplicatesSkipped,
		s.DecodeSkips, s.ContextSkips, len(s.FailedRanges))
}

// Run executes one full pass: scan → upsert → wallet aggregation refresh.
// The pipeline does not retry at this level; retries are already exhausted
// inside the RPC adapter and scanner.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	from, to, err := p.resolveRange(ctx, opts)
	if err != nil {
		return nil, err
	}

	// A head-derived range can invert when the store is already caught up
	// (resume point past the latest block). That is an empty pass, not an
	// error.
	if from > to && opts.ToBlock == nil {
		p.logger.Printf("[PIPELINE] caught up at block %d, nothing to ingest", to)
		return &Summary{FromBlock: from, ToBlock: to}, nil
	}

	summary := &Summary{FromBlock: from, ToBlock: to}
	pairCache := make(map[common.Address]pairTokens)
	tokenSeen := make(map[common.Address]bool)

	p.logger.Printf("[PIPELINE] ingesting blocks [%d, %d]", from, to)

	err = p.scanner.Scan(ctx, from, to, func(b scanner.Batch) error {
		summary.LogsSeen += b.LogsSeen
		summary.DecodeSkips += b.DecodeSkips
		summary.ContextSkips += b.ContextSkips
		summary.FailedRanges = append(summary.FailedRanges, b.FailedRanges...)

		if p.resolver != nil {
			p.enrich(ctx, b.Trades, pairCache, tokenSeen, summary)
		}

		inserted, err := p.trades.UpsertTrades(ctx, b.Trades)
		if err != nil {
			// Fatal: already-committed batches stay valid, an idempotent
			// re-run recovers cleanly.
			return fmt.Errorf("persist batch [%d, %d]: %w", b.FromBlock, b.ToBlock, err)
		}
		summary.TradesInserted += inserted
		summary.DuplicatesSkipped += len(b.Trades) - inserted
		return nil
	})
	if err != nil {
		return summary, err
	}

	if err := p.wallets.RefreshWalletStats(ctx); err != nil {
		return summary, err
	}

	p.logger.Printf("[PIPELINE] done: %s", summary)
	return summary, nil
}

func (p *Pipeline) resolveRange(ctx context.Context, opts RunOptions) (uint64, uint64, error) {
	if opts.FromBlock != nil && opts.ToBlock != nil {
		return *opts.FromBlock, *opts.ToBlock, nil
	}

	if opts.FromBlock == nil && opts.ToBlock != nil {
		return trailingFrom(*opts.ToBlock, opts.Lookback), *opts.ToBlock, nil
	}

	latest, err := p.chain.LatestBlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve latest block: %w", err)
	}

	if opts.FromBlock != nil {
		return *opts.FromBlock, latest, nil
	}

	return trailingFrom(latest, opts.Lookback), latest, nil
}

func trailingFrom(end, lookback uint64) uint64 {
	if lookback == 0 {
		lookback = defaultLookback
	}
	if end > lookback {
		return end - lookback
	}
	return 0
}

type pairTokens struct {
	token0, token1 common.Address
	ok             bool
}

// enrich attaches pair token addresses and caches ERC20 metadata. Strictly
// best-effort: any failure leaves the trade without token addresses and
// never blocks persistence.
func (p *Pipeline) enrich(ctx context.Context, trades []models.Trade, cache map[common.Address]pairTokens, tokenSeen map[common.Address]bool, summary *Summary) {
	for i := range trades {
		t := &trades[i]

		info, seen := cache[t.PairAddress]
		if !seen {
			token0, token1, err := p.resolver.PairTokens(ctx, t.PairAddress)
			if err != nil {
				p.logger.Printf("[ENRICH] pair %s token lookup failed: %v", t.PairAddress.Hex(), err)
				cache[t.PairAddress] = pairTokens{} // negative cache for this run
				continue
			}
			info = pairTokens{token0: token0, token1: token1, ok: true}
			cache[t.PairAddress] = info
			summary.PairsEnriched++

			p.cacheToken(ctx, token0, tokenSeen, summary)
			p.cacheToken(ctx, token1, tokenSeen, summary)

			if err := p.trades.UpdatePairTokens(ctx, t.PairAddress, token0, token1); err != nil {
				p.logger.Printf("[ENRICH] backfill for pair %s failed: %v", t.PairAddress.Hex(), err)
			}
		}

		if info.ok {
			tk0, tk1 := info.token0, info.token1
			t.Token0Address, t.Token1Address = &tk0, &tk1
		}
	}
}

func (p *Pipeline) cacheToken(ctx context.Context, addr common.Address, tokenSeen map[common.Address]bool, summary *Summary) {
	if tokenSeen[addr] {
		return
	}
	tokenSeen[addr] = true

	info, err := p.resolver.TokenInfo(ctx, addr)
	if err != nil {
		p.logger.Printf("[ENRICH] token %s metadata lookup failed, caching sentinel: %v", addr.Hex(), err)
		info = models.UnknownToken(addr)
	}
	if err := p.tokens.Upsert(ctx, info); err != nil {
		p.logger.Printf("[ENRICH] token %s cache write failed: %v", addr.Hex(), err)
		return
	}
	summary.TokensCached++
}
