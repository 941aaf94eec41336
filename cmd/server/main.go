package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjannette/defi-pipeline/internal/api"
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
║     DeFi Swap Pipeline Server v0.3   ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
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

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Setup(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Schema setup failed: %v\n", err)
		os.Exit(1)
	}

	// Repos
	tradeRepo := repository.NewTradeRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	tokenRepo := repository.NewTokenRepo(pool)

	// Notifications
	notify := notifications.NewSender(cfg.WebhookURL, "")

	// 1. API server
	srv := api.NewServer(pool, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	// 2. Background ingestion (only when an interval is configured)
	var sched *scheduler.IngestScheduler
	if cfg.ScanIntervalSeconds > 0 {
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

		sched = scheduler.NewIngestScheduler(pipe, tradeRepo, notify, scheduler.Config{
			Interval: time.Duration(cfg.ScanIntervalSeconds) * time.Second,
			Lookback: uint64(cfg.LookbackBlocks),
		})
		sched.Start()
	} else {
		fmt.Println("[SCHEDULER] Skipped - SCAN_INTERVAL_SECONDS not configured")
	}

	fmt.Println("\nAll services started successfully")

	// Wait for shutdown signal
	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")
	fmt.Println("Shutdown complete")
}
