package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// captureSleeps replaces the backoff sleep with a recorder for the duration
// of a test.
func captureSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	delays := captureSleeps(t)

	calls := 0
	err := Do(context.Background(), Default, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", *delays)
	}
}

func TestDo_BackoffDoublesUntilSuccess(t *testing.T) {
	delays := captureSleeps(t)

	cfg := Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}
	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("expected 2 delays, got %v", *delays)
	}
	for i := 1; i < len(*delays); i++ {
		if (*delays)[i] < 2*(*delays)[i-1] {
			t.Fatalf("delay %d (%s) not >= 2x previous (%s)", i, (*delays)[i], (*delays)[i-1])
		}
	}
	if (*delays)[0] != 100*time.Millisecond {
		t.Fatalf("first delay should equal base delay, got %s", (*delays)[0])
	}
}

func TestDo_DelayCappedAtMax(t *testing.T) {
	delays := captureSleeps(t)

	cfg := Config{MaxAttempts: 6, BaseDelay: 1 * time.Second, MaxDelay: 2 * time.Second}
	err := Do(context.Background(), cfg, func() error {
		return errors.New("always failing")
	})
	if err == nil {
		t.Fatal("expected error after all attempts")
	}
	for _, d := range *delays {
		if d > 2*time.Second {
			t.Fatalf("delay %s exceeds cap", d)
		}
	}
}

func TestDo_AllAttemptsFail(t *testing.T) {
	captureSleeps(t)

	sentinel := errors.New("endpoint down")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("final error should wrap the last failure, got %v", err)
	}
}

func TestDo_NoRetryOnPermanent(t *testing.T) {
	captureSleeps(t)

	sentinel := errors.New("malformed response")
	calls := 0
	err := Do(context.Background(), Default, func() error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Fatalf("should not retry permanent errors, got %d attempts", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected unwrapped sentinel, got %v", err)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { sleep = orig })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Config{MaxAttempts: 10, BaseDelay: time.Second}, func() error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestValue_ReturnsResult(t *testing.T) {
	captureSleeps(t)

	calls := 0
	got, err := Value(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() (uint64, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}
