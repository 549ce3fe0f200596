package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesWithExponentialDelays(t *testing.T) {
	var waits []time.Duration
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}

	calls := 0
	wantErr := errors.New("rate limited")
	err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits: %v", waits)
	}
	if got := policy.Delay(3); got != 4*time.Second {
		t.Fatalf("expected third delay of 4s, got %s", got)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: func(context.Context, time.Duration) error { return nil }}
	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoPermanent(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Second, Sleep: func(context.Context, time.Duration) error {
		t.Fatal("should not sleep after a permanent error")
		return nil
	}}
	wantErr := errors.New("bad request")
	calls := 0
	err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(wantErr)
	})
	if err != wantErr {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	err := policy.Do(ctx, func(context.Context, int) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestDoCapsDelayAndReportsRetries(t *testing.T) {
	var waits []time.Duration
	var seen []int
	policy := Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
		OnRetry: func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) },
	}
	_ = policy.Do(context.Background(), func(context.Context, int) error { return errors.New("busy") })

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("unexpected waits: %v", waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("unexpected waits: %v", waits)
		}
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("unexpected retry attempts: %v", seen)
	}
}

func TestDoStopsWhenSleepFails(t *testing.T) {
	stop := errors.New("shutting down")
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: func(context.Context, time.Duration) error { return stop }}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("down")
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected sleep error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}
