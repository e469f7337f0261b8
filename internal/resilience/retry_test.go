package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/protocol-education/school-intel/internal/config"
)

func fastRetry(attempts int) RetryConfig {
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

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return flagErr{retry: true}
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
	err := Do(context.Background(), fastRetry(4), func(_ context.Context) error {
		calls++
		return flagErr{retry: true}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDo_NonRetryableStopsAtOnce(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(5), func(_ context.Context) error {
		calls++
		return errors.New("bad request")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected single failing call, got %d calls, err=%v", calls, err)
	}
}

func TestDo_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Second, MaxBackoff: time.Second}
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(_ context.Context) error {
			calls.Add(1)
			return flagErr{retry: true}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDo_CustomShouldRetryAndOnRetry(t *testing.T) {
	var calls int
	var retried []int
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(error) bool { return true }
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("anything")
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("unexpected retry attempts %v", retried)
	}
}

func TestDoVal_HonoursRetryAfter(t *testing.T) {
	var calls int
	start := time.Now()
	val, err := DoVal(context.Background(), fastRetry(2), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", flagErr{retry: true, after: 50 * time.Millisecond}
		}
		return "ok", nil
	})
	if err != nil || val != "ok" {
		t.Fatalf("got %q, %v", val, err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to wait for retry-after, waited %s", elapsed)
	}
}

func TestDoVal_ZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), fastRetry(1), func(_ context.Context) (int, error) {
		return 42, errors.New("fail")
	})
	if err == nil || val != 0 {
		t.Errorf("expected zero value and error, got %d, %v", val, err)
	}
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := computeBackoff(i, cfg); got != w {
			t.Errorf("attempt %d: got %s, want %s", i, got, w)
		}
	}

	cfg.JitterFraction = 0.5
	for i := 0; i < 100; i++ {
		got := computeBackoff(0, cfg)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", got)
		}
	}
}

func TestRetryFromConfig(t *testing.T) {
	rc := RetryFromConfig(config.AnthropicConfig{MaxRetries: 4, InitialBackoffMs: 250, MaxBackoffMs: 8000, BackoffMultiplier: 3})
	if rc.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", rc.MaxAttempts)
	}
	if rc.InitialBackoff != 250*time.Millisecond || rc.MaxBackoff != 8*time.Second || rc.Multiplier != 3 {
		t.Errorf("unexpected config %+v", rc)
	}

	rc = RetryFromConfig(config.AnthropicConfig{})
	if rc.MaxAttempts != 1 {
		t.Errorf("zero retries should mean one attempt, got %d", rc.MaxAttempts)
	}
}

func TestRetryLogger(t *testing.T) {
	fn := RetryLogger("anthropic", "extract")
	fn(1, errors.New("x"))
}
