package geoserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func testPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Millisecond}
}

func TestDoWithRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	resp, err := testPolicy(3).doWithRetry(context.Background(), "op", func() (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoWithRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := testPolicy(3).doWithRetry(context.Background(), "op", func() (*http.Response, error) {
		calls++
		return nil, fmt.Errorf("dial tcp: connection refused")
	})

	// 1 initial attempt + 3 retries
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}

	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if te.Attempts != 4 {
		t.Fatalf("attempts = %d, want 4", te.Attempts)
	}
	if te.Err == nil {
		t.Fatal("expected last transport error to be preserved")
	}
}

func TestDoWithRetry_ResponseEndsRetrying(t *testing.T) {
	calls := 0
	resp, err := testPolicy(3).doWithRetry(context.Background(), "op", func() (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("i/o timeout")
		}
		return &http.Response{StatusCode: http.StatusInternalServerError}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A received response is returned as-is, whatever the status code.
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := RetryPolicy{MaxRetries: 10, BaseDelay: time.Minute}
	done := make(chan error, 1)
	go func() {
		_, err := policy.doWithRetry(ctx, "op", func() (*http.Response, error) {
			return nil, fmt.Errorf("connection refused")
		})
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("doWithRetry did not return after cancellation")
	}
}

func TestDelayFor_MonotonicallyIncreasing(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond}
	prev := time.Duration(0)
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		d := policy.delayFor(attempt)
		if d <= prev {
			t.Fatalf("delay for attempt %d (%v) not greater than previous (%v)", attempt, d, prev)
		}
		prev = d
	}
}
