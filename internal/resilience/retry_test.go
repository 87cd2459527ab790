package resilience

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterTransientFailures(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "08006"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		return syscall.ECONNRESET
	})
	if !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("expected last error to be returned, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(5), func(_ context.Context) error {
		calls++
		return &pgconn.PgError{Code: "42P01"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	cfg := fastConfig(10)
	cfg.InitialBackoff = 20 * time.Millisecond
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return syscall.ECONNREFUSED
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_CustomShouldRetryAndOnRetry(t *testing.T) {
	sentinel := errors.New("flaky")
	var calls int
	var retried []int
	cfg := fastConfig(4)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
	if len(retried) != 3 || retried[0] != 1 || retried[2] != 3 {
		t.Errorf("unexpected retry attempts: %v", retried)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), fastConfig(3), func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &pgconn.PgError{Code: "57P01"}
		}
		return 2024, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2024 {
		t.Errorf("expected 2024, got %d", v)
	}
}

func TestDoVal_ZeroValueOnFailure(t *testing.T) {
	v, err := DoVal(context.Background(), fastConfig(2), func(_ context.Context) ([]string, error) {
		return []string{"partial"}, syscall.ECONNRESET
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if v != nil {
		t.Errorf("expected nil value, got %v", v)
	}
}

func TestBackoff_CappedAndNonNegative(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2})
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := backoff(i, cfg); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestWithAttempts(t *testing.T) {
	cfg := WithAttempts(7, "source.training_rows")
	if cfg.MaxAttempts != 7 {
		t.Errorf("expected 7 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.OnRetry == nil {
		t.Error("expected OnRetry logger")
	}
	if WithAttempts(0, "x").MaxAttempts != DefaultRetryConfig().MaxAttempts {
		t.Error("expected default attempts for 0")
	}
}
