// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampling

import (
	"context"
	"testing"
	"time"
)

func TestTimeToNextCycle_OnBoundary(t *testing.T) {
	// Exactly on a minute boundary
	now := time.Unix(1704067200, 0)

	sleep := timeToNextCycle(now, 60*time.Second)
	if sleep != boundarySlack {
		t.Errorf("timeToNextCycle() on boundary = %v, want %v", sleep, boundarySlack)
	}
}

func TestTimeToNextCycle_JustPastBoundary(t *testing.T) {
	// 50ms past the boundary is still within the slack window
	now := time.Unix(1704067200, 50*int64(time.Millisecond))

	sleep := timeToNextCycle(now, 60*time.Second)
	if sleep != boundarySlack {
		t.Errorf("timeToNextCycle() just past boundary = %v, want %v", sleep, boundarySlack)
	}
}

func TestTimeToNextCycle_MidInterval(t *testing.T) {
	// 30s into a 60s interval
	now := time.Unix(1704067230, 0)

	sleep := timeToNextCycle(now, 60*time.Second)
	if sleep != 30*time.Second {
		t.Errorf("timeToNextCycle() mid-interval = %v, want %v", sleep, 30*time.Second)
	}
}

func TestTimeToNextCycle_NearNextBoundary(t *testing.T) {
	// 1s before the next boundary
	now := time.Unix(1704067259, 0)

	sleep := timeToNextCycle(now, 60*time.Second)
	if sleep != 1*time.Second {
		t.Errorf("timeToNextCycle() near boundary = %v, want %v", sleep, 1*time.Second)
	}
}

func TestTimeToNextCycle_SubSecondOffset(t *testing.T) {
	// 59.5s into the interval leaves a 500ms sleep
	now := time.Unix(1704067259, 500*int64(time.Millisecond))

	sleep := timeToNextCycle(now, 60*time.Second)
	if sleep != 500*time.Millisecond {
		t.Errorf("timeToNextCycle() = %v, want %v", sleep, 500*time.Millisecond)
	}
}

func TestWaitForNextCycle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForNextCycle(ctx, time.Hour)
	if err != context.Canceled {
		t.Errorf("WaitForNextCycle() with cancelled context = %v, want %v", err, context.Canceled)
	}
}

func TestWaitForNextCycle_ShortInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := WaitForNextCycle(ctx, 200*time.Millisecond); err != nil {
		t.Fatalf("WaitForNextCycle() error = %v", err)
	}

	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Errorf("WaitForNextCycle() slept %v, want under 1s for a 200ms interval", elapsed)
	}
}
