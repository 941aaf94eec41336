package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjannette/defi-pipeline/internal/config"
	"github.com/kjannette/defi-pipeline/internal/db"
	"github.com/kjannette/defi-pipeline/internal/ethereum"
	"github.com/kjannette/defi-pipeline/internal/notifications"
	"github.com/kjannette/defi-pipeline/internal/pipeline"
	"github.com/kjannette/defi-pipeline/internal/repository"
	"github.com/kjannette/defi-pipeline/internal/retry"
	"github.com/kjannette/defi-pipeline/internal/scanner"
	"github.com/kjannette/defi-pipeline/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║     DeFi Swap Pipeline v0.3          ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	var (
		fromFlag     = flag.Uint64("from", 0, "first block to scan (0 = trailing window)")
		toFlag       = flag.Uint64("to", 0, "last block to scan (0 = chain head)")
		lookbackFlag = flag.Uint64("lookback", 0, "trailing window size when -from is unset")
		watchFlag    = flag.Bool("watch", false, "keep running, ingesting new blocks on an interval")
	)
	flag.Parse()

	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg.Print()

	// Database
	fmt.Printf("\n[DB] Connecting to %s:%d/%s ...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
	pool, err := db.Connect(cfg.DSN(), int32(cfg.DBMaxConns))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Connection failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		pool.Close()
		fmt.Println("[DB] Connection pool closed")
	}()

	if err := db.TestConnection(pool); err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Test query failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Setup(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Schema setup failed: %v\n", err)
		os.Exit(1)
	}

	// RPC client
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.MaxRequestsPerMinute)/60.0), cfg.MaxRequestsPerMinute/10+1)
	retryCfg := retry.Config{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
	}
	client, err := ethereum.NewClient(cfg.ProviderURL(), limiter, retryCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[RPC] Connection failed: %v\n", err)
		os.Exit(1)
	}

	// Repos + pipeline
	tradeRepo := repository.NewTradeRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	tokenRepo := repository.NewTokenRepo(pool)

	pipe := pipeline.New(pipeline.Options{
		Chain: client,
		Scanner: scanner.New(client, scanner.Config{
			BatchSize: uint64(cfg.BlockBatchSize),
			Workers:   cfg.ContextWorkers,
		}),
		Trades:   tradeRepo,
		Wallets:  walletRepo,
		Tokens:   tokenRepo,
		Resolver: client,
	})

	if *watchFlag {
		runWatch(ctx, cfg, pipe, tradeRepo)
	} else {
		runOnce(ctx, cfg, pipe, *fromFlag, *toFlag, *lookbackFlag)
	}

	printAnalytics(context.Background(), tradeRepo, walletRepo)
}

func runOnce(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline, from, to, lookback uint64) {
	opts := pipeline.RunOptions{Lookback: lookback}
	if opts.Lookback == 0 {
		opts.Lookback = uint64(cfg.LookbackBlocks)
	}
	if from > 0 {
		opts.FromBlock = &from
	}
	if to > 0 {
		opts.ToBlock = &to
	}

	summary, err := pipe.Run(ctx, opts)
	if err != nil {
		if summary != nil {
			fmt.Printf("[PIPELINE] Partial result before failure: %s\n", summary)
		}
		fmt.Fprintf(os.Stderr, "[PIPELINE] Run failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n=== Run Summary ===")
	fmt.Printf("Blocks:           [%d, %d]\n", summary.FromBlock, summary.ToBlock)
	fmt.Printf("Logs seen:        %d\n", summary.LogsSeen)
	fmt.Printf("Trades inserted:  %d\n", summary.TradesInserted)
	fmt.Printf("Duplicates:       %d\n", summary.DuplicatesSkipped)
	fmt.Printf("Decode skips:     %d\n", summary.DecodeSkips)
	fmt.Printf("Context skips:    %d\n", summary.ContextSkips)
	fmt.Printf("Pairs enriched:   %d\n", summary.PairsEnriched)
	if len(summary.FailedRanges) > 0 {
		fmt.Printf("Failed ranges:    %d\n", len(summary.FailedRanges))
		for _, fr := range summary.FailedRanges {
			fmt.Printf("  [%d, %d]: %v\n", fr.FromBlock, fr.ToBlock, fr.Err)
		}
	}
}

func runWatch(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline, tradeRepo *repository.TradeRepo) {
	interval := time.Duration(cfg.ScanIntervalSeconds) * time.Second
	notify := notifications.NewSender(cfg.WebhookURL, "")

	sched := scheduler.NewIngestScheduler(pipe, tradeRepo, notify, scheduler.Config{
		Interval: interval,
		Lookback: uint64(cfg.LookbackBlocks),
	})
	sched.Start()

	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")
	sched.Stop()
}

func printAnalytics(ctx context.Context, tradeRepo *repository.TradeRepo, walletRepo *repository.WalletRepo) {
	volumes, err := tradeRepo.DailyVolume(ctx, 7)
	if err == nil && len(volumes) > 0 {
		fmt.Println("\n=== Daily Volume (last 7 days) ===")
		for _, v := range volumes {
			fmt.Printf("%s  %6d trades  %5d wallets  %5d pairs\n",
				v.Date, v.TradeCount, v.UniqueWallets, v.UniquePairs)
		}
	}

	pairs, err := tradeRepo.TopPairs(ctx, 5)
	if err == nil && len(pairs) > 0 {
		fmt.Println("\n=== Top Pairs ===")
		for i, p := range pairs {
			fmt.Printf("%d. %s  %d trades, %d traders\n",
				i+1, p.PairAddress.Hex(), p.TradeCount, p.UniqueTraders)
		}
	}

	wallets, err := walletRepo.Top(ctx, 5)
	if err == nil && len(wallets) > 0 {
		fmt.Println("\n=== Top Wallets ===")
		for i, w := range wallets {
			fmt.Printf("%d. %s  %d trades\n", i+1, w.Address.Hex(), w.TotalTrades)
		}
	}
}
