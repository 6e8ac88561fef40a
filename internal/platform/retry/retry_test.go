package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/yakovlev-alexey/hot-keeper/internal/platform/retry"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Millisecond,
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("address already in use")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if val != 42 || calls != 3 {
		t.Fatalf("expected 42 after 3 calls, got %d after %d", val, calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("permission denied")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysStop, func() (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})
	var permErr *retry.PermanentError
	if !errors.As(err, &permErr) || !errors.Is(err, permanent) {
		t.Fatalf("expected PermanentError wrapping the cause, got %T: %v", err, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustedRetriesWrapLastError(t *testing.T) {
	underlying := errors.New("transient")
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, alwaysRetry, func() error {
		calls++
		return underlying
	})
	if !errors.Is(err, underlying) {
		t.Fatalf("expected wrapped underlying error, got %v", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Fatalf("expected %d calls, got %d", fastPolicy.MaxAttempts, calls)
	}
}

func TestDo_InvalidPolicy(t *testing.T) {
	err := retry.DoVoid(context.Background(), retry.Policy{}, alwaysRetry, func() error { return nil })
	if err == nil {
		t.Fatal("expected error for zero attempts")
	}
}

func TestDo_BackoffDoublesAndCaps(t *testing.T) {
	var backoffs []time.Duration
	p := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     3 * time.Millisecond,
		OnRetry: func(_ int, _ error, backoff time.Duration) {
			backoffs = append(backoffs, backoff)
		},
	}

	_ = retry.DoVoid(context.Background(), p, alwaysRetry, func() error { return errors.New("fail") })

	expected := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond}
	if len(backoffs) != len(expected) {
		t.Fatalf("expected %d OnRetry calls, got %d", len(expected), len(backoffs))
	}
	for i, v := range expected {
		if backoffs[i] != v {
			t.Fatalf("retry %d: expected backoff %v, got %v", i+1, v, backoffs[i])
		}
	}
}

func TestDo_UsesInjectedClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := retry.Policy{MaxAttempts: 2, InitialBackoff: time.Hour, Clock: clock}

	done := make(chan error, 1)
	calls := 0
	go func() {
		done <- retry.DoVoid(context.Background(), p, alwaysRetry, func() error {
			calls++
			if calls == 1 {
				return errors.New("busy")
			}
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("retry never waited on the clock: %v", err)
	}
	clock.Advance(time.Hour)

	if err := <-done; err != nil {
		t.Fatalf("expected success after advancing the clock, got %v", err)
	}
}

func TestDo_ContextCancellationDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: 10 * time.Second}

	calls := 0
	_, err := retry.Do(ctx, p, alwaysRetry, func() (struct{}, error) {
		calls++
		cancel()
		return struct{}{}, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancel, got %d", calls)
	}
}

func alwaysRetry(error) retry.Action { return retry.Retry }
func alwaysStop(error) retry.Action  { return retry.Stop }
