// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampling

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
	"github.com/soothill/envoy-data-logger/pkg/interfaces"
)

func timeoutErr() error {
	return pkgerrors.NewPollError("power snapshot", pkgerrors.KindTimeout, context.DeadlineExceeded)
}

func TestPowerRetry_SucceedsFirstAttempt(t *testing.T) {
	policy := powerRetryPolicy{attempts: 10, backoff: time.Millisecond}
	calls := 0

	snapshot, err := policy.collect(context.Background(), func(context.Context) (*interfaces.PowerSnapshot, error) {
		calls++
		return &interfaces.PowerSnapshot{Timestamp: time.Now()}, nil
	})
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if snapshot == nil {
		t.Fatal("collect() returned nil snapshot")
	}
	if calls != 1 {
		t.Errorf("collect() made %d calls, want 1", calls)
	}
}

func TestPowerRetry_RetriesTimeouts(t *testing.T) {
	policy := powerRetryPolicy{attempts: 5, backoff: time.Millisecond}
	calls := 0

	snapshot, err := policy.collect(context.Background(), func(context.Context) (*interfaces.PowerSnapshot, error) {
		calls++
		if calls < 3 {
			return nil, timeoutErr()
		}
		return &interfaces.PowerSnapshot{Timestamp: time.Now()}, nil
	})
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if snapshot == nil {
		t.Fatal("collect() returned nil snapshot")
	}
	if calls != 3 {
		t.Errorf("collect() made %d calls, want 3", calls)
	}
}

func TestPowerRetry_ExhaustsBudget(t *testing.T) {
	policy := powerRetryPolicy{attempts: 4, backoff: time.Millisecond}
	calls := 0

	_, err := policy.collect(context.Background(), func(context.Context) (*interfaces.PowerSnapshot, error) {
		calls++
		return nil, timeoutErr()
	})
	if !errors.Is(err, pkgerrors.ErrPollExhausted) {
		t.Errorf("collect() error = %v, want ErrPollExhausted", err)
	}
	if calls != 4 {
		t.Errorf("collect() made %d calls, want the full budget of 4", calls)
	}
}

func TestPowerRetry_ExhaustedErrorWrapsCause(t *testing.T) {
	policy := powerRetryPolicy{attempts: 2, backoff: time.Millisecond}

	_, err := policy.collect(context.Background(), func(context.Context) (*interfaces.PowerSnapshot, error) {
		return nil, timeoutErr()
	})
	var pe *pkgerrors.PollError
	if !errors.As(err, &pe) {
		t.Errorf("collect() exhausted error does not wrap the last poll error: %v", err)
	}
}

func TestPowerRetry_NonTimeoutFailsImmediately(t *testing.T) {
	policy := powerRetryPolicy{attempts: 10, backoff: time.Millisecond}
	calls := 0
	connErr := pkgerrors.NewPollError("power snapshot", pkgerrors.KindConnection, errors.New("connection refused"))

	_, err := policy.collect(context.Background(), func(context.Context) (*interfaces.PowerSnapshot, error) {
		calls++
		return nil, connErr
	})
	if !errors.Is(err, connErr) {
		t.Errorf("collect() error = %v, want the connection error unchanged", err)
	}
	if calls != 1 {
		t.Errorf("collect() made %d calls for a non-timeout failure, want 1", calls)
	}
}

func TestPowerRetry_CancelledDuringBackoff(t *testing.T) {
	policy := powerRetryPolicy{attempts: 10, backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := policy.collect(ctx, func(context.Context) (*interfaces.PowerSnapshot, error) {
			return nil, timeoutErr()
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("collect() error = %v, want %v", err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collect() did not return after cancellation")
	}
}
