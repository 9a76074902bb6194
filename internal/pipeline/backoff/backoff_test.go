package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     400 * time.Millisecond,
	}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{name: "first attempt has no delay", attempt: 0, expected: 0},
		{name: "second attempt waits initial delay", attempt: 1, expected: 100 * time.Millisecond},
		{name: "third attempt doubles", attempt: 2, expected: 200 * time.Millisecond},
		{name: "fourth attempt doubles again", attempt: 3, expected: 400 * time.Millisecond},
		{name: "delay is capped at max", attempt: 4, expected: 400 * time.Millisecond},
		{name: "large attempt stays capped", attempt: 40, expected: 400 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.attempt); got != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), p, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
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

func TestRetry_ExhaustsBudget(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	failure := errors.New("persistent failure")
	calls := 0
	err := Retry(context.Background(), p, func(_ context.Context) error {
		calls++
		return failure
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, failure) {
		t.Errorf("expected last failure to be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_HonoursContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, p, func(_ context.Context) error {
			calls++
			return errors.New("always fails")
		})
	}()

	// Let the first attempt run, then cancel during the backoff wait.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}

	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}
