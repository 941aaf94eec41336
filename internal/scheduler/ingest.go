// Package scheduler runs the ingestion pipeline on a fixed interval,
// resuming each pass from the highest block already stored.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjannette/defi-pipeline/internal/pipeline"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.Summary, error)
}

// Checkpoint reports the highest block number already persisted, so a pass
// can resume where the previous one ended.
type Checkpoint interface {
	MaxBlockNumber(ctx context.Context) (uint64, bool, error)
}

// Notifier receives run summaries and failures. May be nil.
type Notifier interface {
	Send(msg string)
	Enabled() bool
}

type Config struct {
	Interval   time.Duration // e.g. 5*time.Minute
	Lookback   uint64        // trailing window for the very first pass
	RunTimeout time.Duration
	OnSummary  func(*pipeline.Summary)
}

type IngestScheduler struct {
	pipe   Runner
	trades Checkpoint
	notify Notifier
	cfg    Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewIngestScheduler(pipe Runner, trades Checkpoint, notify Notifier, cfg Config) *IngestScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	return &IngestScheduler{
		pipe:   pipe,
		trades: trades,
		notify: notify,
		cfg:    cfg,
	}
}

func (s *IngestScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		fmt.Println("[SCHEDULER] Already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// Initial pass on startup (fire-and-forget)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
		defer cancel()
		if err := s.runOnce(ctx); err != nil {
			fmt.Printf("[SCHEDULER] Initial ingestion pass failed: %v\n", err)
		}
	}()

	// Recurring ticker
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
				if err := s.runOnce(ctx); err != nil {
					fmt.Printf("[SCHEDULER] Ingestion pass failed: %v\n", err)
				}
				cancel()
			}
		}
	}()

	fmt.Printf("[SCHEDULER] Started (every %s, resuming from last stored block)\n", s.cfg.Interval)
}

func (s *IngestScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	fmt.Println("[SCHEDULER] Stopped")
}

func (s *IngestScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers a pass outside the normal schedule.
func (s *IngestScheduler) RunNow(ctx context.Context) error {
	fmt.Println("[SCHEDULER] Manual ingestion pass triggered")
	return s.runOnce(ctx)
}

func (s *IngestScheduler) runOnce(ctx context.Context) error {
	opts := pipeline.RunOptions{Lookback: s.cfg.Lookback}

	max, ok, err := s.trades.MaxBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if ok {
		// Duplicates from a partially ingested tail are harmless, the
		// store discards them, so resuming at max+1 is safe but we do
		// not bother re-covering max itself.
		from := max + 1
		opts.FromBlock = &from
	}

	summary, err := s.pipe.Run(ctx, opts)
	if err != nil {
		if s.notify != nil && s.notify.Enabled() {
			s.notify.Send(fmt.Sprintf("ingestion pass failed: %v", err))
		}
		return err
	}

	if s.cfg.OnSummary != nil {
		s.cfg.OnSummary(summary)
	}
	if s.notify != nil && s.notify.Enabled() && summary.TradesInserted > 0 {
		s.notify.Send(summary.String())
	}
	return nil
}
