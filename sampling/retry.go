// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampling

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
	"github.com/soothill/envoy-data-logger/pkg/interfaces"
	"github.com/soothill/envoy-data-logger/pkg/logger"
	"github.com/soothill/envoy-data-logger/pkg/metrics"
)

// powerRetryPolicy retries timeout-class failures with a fixed backoff.
// Power data is required every tick, and the Envoy occasionally stalls
// under load, so timeouts get a generous budget. Anything that is not a
// timeout fails the cycle immediately: retrying a TLS or connection
// failure within the cycle just burns the tick.
type powerRetryPolicy struct {
	attempts int
	backoff  time.Duration
}

// collect polls until success, a non-timeout failure, context
// cancellation, or budget exhaustion (ErrPollExhausted).
func (p powerRetryPolicy) collect(ctx context.Context, poll func(context.Context) (*interfaces.PowerSnapshot, error)) (*interfaces.PowerSnapshot, error) {
	var lastErr error

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			metrics.PowerPollRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.backoff):
			}
		}

		snapshot, err := poll(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Power poll succeeded after retries")
			}
			return snapshot, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !pkgerrors.IsTimeout(err) {
			return nil, err
		}
		logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("budget", p.attempts).
			Msg("Power poll timed out")
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", pkgerrors.ErrPollExhausted, p.attempts, lastErr)
}
