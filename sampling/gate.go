// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampling

import (
	"time"
)

// cadenceGate sub-samples the inverter poll within the inverter loop's
// tick stream. Owned exclusively by that loop; no locking.
type cadenceGate struct {
	interval time.Duration
	lastPoll time.Time // zero until the first successful poll
}

func newCadenceGate(interval time.Duration) *cadenceGate {
	return &cadenceGate{interval: interval}
}

// Due reports whether an inverter poll is owed. True until the first
// successful poll, then whenever the interval has elapsed since the last
// one. A failed poll never advances the gate, so the next tick retries.
func (g *cadenceGate) Due(now time.Time) bool {
	if g.lastPoll.IsZero() {
		return true
	}
	return now.Sub(g.lastPoll) >= g.interval
}

// MarkPolled records a successful poll, including one that returned zero
// readings.
func (g *cadenceGate) MarkPolled(now time.Time) {
	g.lastPoll = now
}
