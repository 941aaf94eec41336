package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/defi-pipeline/internal/models"
	"github.com/kjannette/defi-pipeline/internal/scanner"
)

type fakeChain struct {
	latest uint64
	err    error
}

func (f *fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.latest, f.err
}

type fakeScanner struct {
	batches []scanner.Batch
	calls   int
	gotFrom uint64
	gotTo   uint64
}

func (f *fakeScanner) Scan(ctx context.Context, fromBlock, toBlock uint64, emit func(scanner.Batch) error) error {
	f.calls++
	f.gotFrom, f.gotTo = fromBlock, toBlock
	for _, b := range f.batches {
		if err := emit(b); err != nil {
			return err
		}
	}
	return nil
}

type fakeTradeStore struct {
	upserted   [][]models.Trade
	inserted   int
	upsertErr  error
	backfills  []common.Address
	backfillEr error
}

func (f *fakeTradeStore) UpsertTrades(ctx context.Context, trades []models.Trade) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserted = append(f.upserted, trades)
	if f.inserted >= 0 && f.inserted < len(trades) {
		return f.inserted, nil
	}
	return len(trades), nil
}

func (f *fakeTradeStore) UpdatePairTokens(ctx context.Context, pair, token0, token1 common.Address) error {
	f.backfills = append(f.backfills, pair)
	return f.backfillEr
}

type fakeWalletStore struct {
	refreshed int
	err       error
}

func (f *fakeWalletStore) RefreshWalletStats(ctx context.Context) error {
	f.refreshed++
	return f.err
}

type fakeTokenStore struct {
	upserted []models.TokenInfo
	err      error
}

func (f *fakeTokenStore) Upsert(ctx context.Context, info *models.TokenInfo) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, *info)
	return nil
}

type fakeResolver struct {
	pairErr     error
	tokenErr    error
	pairLookups int
}

func (f *fakeResolver) PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error) {
	f.pairLookups++
	if f.pairErr != nil {
		return common.Address{}, common.Address{}, f.pairErr
	}
	token0 := common.BytesToAddress(append(pair.Bytes()[:19], 0xa0))
	token1 := common.BytesToAddress(append(pair.Bytes()[:19], 0xa1))
	return token0, token1, nil
}

func (f *fakeResolver) TokenInfo(ctx context.Context, token common.Address) (*models.TokenInfo, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &models.TokenInfo{Address: token, Symbol: "TKN", Name: "Token", Decimals: 18, TotalSupply: big.NewInt(1000)}, nil
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func trade(block uint64, logIndex uint32, pair common.Address) models.Trade {
	return models.Trade{
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block)*1000 + int64(logIndex))),
		LogIndex:    logIndex,
		PairAddress: pair,
		Sender:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount0In:   big.NewInt(1),
		Amount1In:   big.NewInt(0),
		Amount0Out:  big.NewInt(0),
		Amount1Out:  big.NewInt(2),
		Timestamp:   1_600_000_000 + block,
	}
}

func uptr(v uint64) *uint64 { return &v }

func newPipeline(chain ChainReader, sc TradeScanner, trades TradeStore, wallets WalletStore, tokens TokenStore, resolver TokenResolver) *Pipeline {
	return New(Options{
		Chain:    chain,
		Scanner:  sc,
		Trades:   trades,
		Wallets:  wallets,
		Tokens:   tokens,
		Resolver: resolver,
		Logger:   quiet(),
	})
}

func TestRunSummaryAccounting(t *testing.T) {
	pair := common.HexToAddress("0x3333333333333333333333333333333333333333")
	sc := &fakeScanner{batches: []scanner.Batch{
		{
			FromBlock: 100, ToBlock: 199,
			Trades:      []models.Trade{trade(100, 0, pair), trade(101, 3, pair)},
			LogsSeen:    3,
			DecodeSkips: 1,
		},
		{
			FromBlock: 200, ToBlock: 250,
			Trades:       []models.Trade{trade(210, 1, pair)},
			LogsSeen:     2,
			ContextSkips: 1,
			FailedRanges: []scanner.FailedRange{{FromBlock: 240, ToBlock: 240, Err: errors.New("boom")}},
		},
	}}
	trades := &fakeTradeStore{inserted: -1}
	wallets := &fakeWalletStore{}

	p := newPipeline(&fakeChain{}, sc, trades, wallets, &fakeTokenStore{}, nil)
	summary, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(100), ToBlock: uptr(250)})
	require.NoError(t, err)

	assert.Equal(t, uint64(100), summary.FromBlock)
	assert.Equal(t, uint64(250), summary.ToBlock)
	assert.Equal(t, 5, summary.LogsSeen)
	assert.Equal(t, 3, summary.TradesInserted)
	assert.Equal(t, 0, summary.DuplicatesSkipped)
	assert.Equal(t, 1, summary.DecodeSkips)
	assert.Equal(t, 1, summary.ContextSkips)
	assert.Len(t, summary.FailedRanges, 1)
	assert.Equal(t, 1, wallets.refreshed)
}

func TestRunCountsDuplicates(t *testing.T) {
	pair := common.HexToAddress("0x3333333333333333333333333333333333333333")
	sc := &fakeScanner{batches: []scanner.Batch{{
		FromBlock: 1, ToBlock: 10,
		Trades:   []models.Trade{trade(1, 0, pair), trade(1, 1, pair), trade(2, 0, pair)},
		LogsSeen: 3,
	}}}
	trades := &fakeTradeStore{inserted: 1} // store reports 2 of 3 already present

	p := newPipeline(&fakeChain{}, sc, trades, &fakeWalletStore{}, &fakeTokenStore{}, nil)
	summary, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(1), ToBlock: uptr(10)})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TradesInserted)
	assert.Equal(t, 2, summary.DuplicatesSkipped)
}

func TestRunStoreErrorAborts(t *testing.T) {
	pair := common.HexToAddress("0x3333333333333333333333333333333333333333")
	sc := &fakeScanner{batches: []scanner.Batch{{
		FromBlock: 1, ToBlock: 10,
		Trades: []models.Trade{trade(1, 0, pair)}, LogsSeen: 1,
	}}}
	storeErr := errors.New("connection reset")
	trades := &fakeTradeStore{upsertErr: storeErr}
	wallets := &fakeWalletStore{}

	p := newPipeline(&fakeChain{}, sc, trades, wallets, &fakeTokenStore{}, nil)
	_, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(1), ToBlock: uptr(10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, 0, wallets.refreshed, "aggregation must not run after a persistence failure")
}

func TestRunDefaultsToTrailingWindow(t *testing.T) {
	sc := &fakeScanner{}
	p := newPipeline(&fakeChain{latest: 1000}, sc, &fakeTradeStore{inserted: -1}, &fakeWalletStore{}, &fakeTokenStore{}, nil)

	_, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(900), sc.gotFrom)
	assert.Equal(t, uint64(1000), sc.gotTo)
}

func TestRunFromBlockOnlyExtendsToHead(t *testing.T) {
	sc := &fakeScanner{}
	p := newPipeline(&fakeChain{latest: 500}, sc, &fakeTradeStore{inserted: -1}, &fakeWalletStore{}, &fakeTokenStore{}, nil)

	_, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(42)})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sc.gotFrom)
	assert.Equal(t, uint64(500), sc.gotTo)
}

func TestRunCaughtUpIsNoOp(t *testing.T) {
	sc := &fakeScanner{}
	wallets := &fakeWalletStore{}
	p := newPipeline(&fakeChain{latest: 500}, sc, &fakeTradeStore{inserted: -1}, wallets, &fakeTokenStore{}, nil)

	// Resume point one past the head, as the scheduler produces when the
	// store is fully caught up.
	summary, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(501)})
	require.NoError(t, err, "a caught-up store is an empty pass, not an error")
	assert.Equal(t, 0, sc.calls, "nothing to scan when the resume point is past the head")
	assert.Equal(t, 0, summary.TradesInserted)
	assert.Equal(t, 0, wallets.refreshed)
}

func TestRunToBlockOnlyEndsAtRequestedBlock(t *testing.T) {
	sc := &fakeScanner{}
	headErr := errors.New("dial tcp: connection refused")
	p := newPipeline(&fakeChain{err: headErr}, sc, &fakeTradeStore{inserted: -1}, &fakeWalletStore{}, &fakeTokenStore{}, nil)

	_, err := p.Run(context.Background(), RunOptions{ToBlock: uptr(400), Lookback: 100})
	require.NoError(t, err, "an explicit end block needs no head lookup")
	assert.Equal(t, uint64(300), sc.gotFrom)
	assert.Equal(t, uint64(400), sc.gotTo)
}

func TestRunShortChainClampsToGenesis(t *testing.T) {
	sc := &fakeScanner{}
	p := newPipeline(&fakeChain{latest: 30}, sc, &fakeTradeStore{inserted: -1}, &fakeWalletStore{}, &fakeTokenStore{}, nil)

	_, err := p.Run(context.Background(), RunOptions{Lookback: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sc.gotFrom)
	assert.Equal(t, uint64(30), sc.gotTo)
}

func TestRunHeadLookupFailure(t *testing.T) {
	headErr := errors.New("dial tcp: connection refused")
	p := newPipeline(&fakeChain{err: headErr}, &fakeScanner{}, &fakeTradeStore{}, &fakeWalletStore{}, &fakeTokenStore{}, nil)

	_, err := p.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, headErr)
}

func TestRunEnrichmentAttachesTokens(t *testing.T) {
	pair := common.HexToAddress("0x3333333333333333333333333333333333333333")
	sc := &fakeScanner{batches: []scanner.Batch{{
		FromBlock: 1, ToBlock: 10,
		Trades:   []models.Trade{trade(1, 0, pair), trade(2, 0, pair)},
		LogsSeen: 2,
	}}}
	trades := &fakeTradeStore{inserted: -1}
	tokens := &fakeTokenStore{}
	resolver := &fakeResolver{}

	p := newPipeline(&fakeChain{}, sc, trades, &fakeWalletStore{}, tokens, resolver)
	summary, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(1), ToBlock: uptr(10)})
	require.NoError(t, err)

	assert.Equal(t, 1, resolver.pairLookups, "pair metadata resolved once per pair, not per trade")
	assert.Equal(t, 1, summary.PairsEnriched)
	assert.Equal(t, 2, summary.TokensCached)
	assert.Len(t, tokens.upserted, 2)
	assert.Equal(t, []common.Address{pair}, trades.backfills)

	require.Len(t, trades.upserted, 1)
	for _, tr := range trades.upserted[0] {
		require.NotNil(t, tr.Token0Address)
		require.NotNil(t, tr.Token1Address)
	}
}

func TestRunPairLookupFailureLeavesTokensUnset(t *testing.T) {
	pair := common.HexToAddress("0x3333333333333333333333333333333333333333")
	sc := &fakeScanner{batches: []scanner.Batch{{
		FromBlock: 1, ToBlock: 10,
		Trades: []models.Trade{trade(1, 0, pair), trade(2, 0, pair)}, LogsSeen: 2,
	}}}
	trades := &fakeTradeStore{inserted: -1}
	resolver := &fakeResolver{pairErr: errors.New("execution reverted")}

	p := newPipeline(&fakeChain{}, sc, trades, &fakeWalletStore{}, &fakeTokenStore{}, resolver)
	summary, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(1), ToBlock: uptr(10)})
	require.NoError(t, err, "enrichment failures must not block persistence")

	assert.Equal(t, 1, resolver.pairLookups, "failed pair is negatively cached for the run")
	assert.Equal(t, 0, summary.PairsEnriched)
	require.Len(t, trades.upserted, 1)
	for _, tr := range trades.upserted[0] {
		assert.Nil(t, tr.Token0Address)
		assert.Nil(t, tr.Token1Address)
	}
}

func TestRunTokenLookupFailureCachesSentinel(t *testing.T) {
	pair := common.HexToAddress("0x3333333333333333333333333333333333333333")
	sc := &fakeScanner{batches: []scanner.Batch{{
		FromBlock: 1, ToBlock: 10,
		Trades: []models.Trade{trade(1, 0, pair)}, LogsSeen: 1,
	}}}
	tokens := &fakeTokenStore{}
	resolver := &fakeResolver{tokenErr: errors.New("execution reverted")}

	p := newPipeline(&fakeChain{}, sc, &fakeTradeStore{inserted: -1}, &fakeWalletStore{}, tokens, resolver)
	summary, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(1), ToBlock: uptr(10)})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.PairsEnriched)
	require.Len(t, tokens.upserted, 2)
	for _, info := range tokens.upserted {
		assert.Equal(t, models.UnknownSymbol, info.Symbol)
		assert.True(t, info.Unknown())
	}
}

func TestRunWalletRefreshErrorSurfaces(t *testing.T) {
	refreshErr := errors.New("deadlock detected")
	p := newPipeline(&fakeChain{}, &fakeScanner{}, &fakeTradeStore{inserted: -1}, &fakeWalletStore{err: refreshErr}, &fakeTokenStore{}, nil)

	_, err := p.Run(context.Background(), RunOptions{FromBlock: uptr(1), ToBlock: uptr(10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, refreshErr)
}
