// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package sampling implements the dual-cadence sampling and rollover engine.
//
// Two long-lived loops poll the Envoy independently: a power loop on the
// base interval and an inverter loop that sub-samples on a slower cadence.
// Each loop aligns its ticks to wall-clock interval boundaries, applies its
// own retry or degrade policy, deduplicates against the store where the
// data source re-reports history, and emits daily energy totals when the
// local date changes. No error from a single cycle ever terminates a loop;
// loops exit only on context cancellation.
package sampling

import (
	"context"
	"time"
)

// boundarySlack is the minimum sleep when a tick lands exactly on an
// interval boundary. Sleeping zero would spin on the boundary.
const boundarySlack = 100 * time.Millisecond

// timeToNextCycle returns how long to sleep so the next wake lands on a
// wall-clock interval boundary. Re-computing from the clock on every tick
// keeps the cadence aligned regardless of sleep inaccuracy or slow cycles.
func timeToNextCycle(now time.Time, interval time.Duration) time.Duration {
	remainder := time.Duration(now.UnixNano()) % interval
	if remainder < boundarySlack {
		return boundarySlack
	}
	return interval - remainder
}

// WaitForNextCycle blocks until the next wall-clock interval boundary.
// Returns the context error on cancellation, never a data error.
func WaitForNextCycle(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(timeToNextCycle(time.Now(), interval))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
