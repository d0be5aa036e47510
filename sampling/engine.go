// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
	"github.com/soothill/envoy-data-logger/pkg/interfaces"
	"github.com/soothill/envoy-data-logger/pkg/logger"
	"github.com/soothill/envoy-data-logger/pkg/metrics"
	"github.com/soothill/envoy-data-logger/storage"
)

// Options configures an Engine. Zero values are filled with the defaults
// the reference deployment runs with.
type Options struct {
	Interval          time.Duration // power cadence, default 60s
	InverterInterval  time.Duration // inverter cadence, default 300s
	SourceTag         string
	PowerRetries      int           // power poll attempts per cycle, default 10
	PowerRetryBackoff time.Duration // delay between power retries, default 5s
	WatermarkLookback time.Duration // dedup cutoff query window, default 30 days
	BucketHighRate    string
	BucketDaily       string
	ExpectedSerials   []string // inverters that must get a daily point even on silence
	InverterTags      storage.InverterTagger
}

func (o *Options) setDefaults() {
	if o.Interval == 0 {
		o.Interval = 60 * time.Second
	}
	if o.InverterInterval == 0 {
		o.InverterInterval = 300 * time.Second
	}
	if o.PowerRetries == 0 {
		o.PowerRetries = 10
	}
	if o.PowerRetryBackoff == 0 {
		o.PowerRetryBackoff = 5 * time.Second
	}
	if o.WatermarkLookback == 0 {
		o.WatermarkLookback = 30 * 24 * time.Hour
	}
}

// Engine runs the two polling loops. The loops share only the read-only
// options and the device/store handles, both safe for concurrent use;
// the gate and day markers are each owned by a single loop.
type Engine struct {
	opts   Options
	device interfaces.DeviceClient
	store  interfaces.TimeSeriesStore
	retry  powerRetryPolicy

	gate        *cadenceGate // inverter loop only
	powerDay    *dayMarker   // power loop only
	inverterDay *dayMarker   // inverter loop only

	now func() time.Time
	wg  sync.WaitGroup
}

// New creates a sampling engine.
func New(device interfaces.DeviceClient, store interfaces.TimeSeriesStore, opts Options) *Engine {
	opts.setDefaults()
	now := time.Now

	return &Engine{
		opts:        opts,
		device:      device,
		store:       store,
		retry:       powerRetryPolicy{attempts: opts.PowerRetries, backoff: opts.PowerRetryBackoff},
		gate:        newCadenceGate(opts.InverterInterval),
		powerDay:    newDayMarker(now()),
		inverterDay: newDayMarker(now()),
		now:         now,
	}
}

// Run starts both loops and blocks until the context is cancelled and
// both have exited.
func (e *Engine) Run(ctx context.Context) {
	logger.Info().
		Dur("interval", e.opts.Interval).
		Dur("inverter_interval", e.opts.InverterInterval).
		Str("source", e.opts.SourceTag).
		Int("expected_inverters", len(e.opts.ExpectedSerials)).
		Msg("Sampling started")

	e.wg.Add(2)
	go e.powerLoop(ctx)
	go e.inverterLoop(ctx)
	e.wg.Wait()

	logger.Info().Msg("Sampling engine stopped")
}

// powerLoop runs the power cadence. Cycle failures are logged and counted;
// the loop itself only exits on cancellation.
func (e *Engine) powerLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		if err := WaitForNextCycle(ctx, e.opts.Interval); err != nil {
			logger.Info().Msg("Power loop shutting down")
			return
		}
		if err := e.runPowerCycle(ctx); err != nil && ctx.Err() == nil {
			reason := cycleFailureReason(err)
			metrics.PowerCyclesSkipped.WithLabelValues(reason).Inc()
			logger.Warn().Err(err).Str("reason", reason).Msg("Power cycle skipped")
		}
	}
}

// runPowerCycle performs one poll-transform-write-rollover pass.
func (e *Engine) runPowerCycle(ctx context.Context) error {
	start := time.Now()
	snapshot, err := e.retry.collect(ctx, e.device.GetPowerSnapshot)
	metrics.PollDuration.WithLabelValues("power").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	metrics.PowerPollsTotal.Inc()

	e.updatePowerGauges(snapshot)

	points := storage.PowerPoints(snapshot, e.opts.SourceTag)
	if len(points) > 0 {
		if writeErr := e.store.Write(ctx, e.opts.BucketHighRate, points); writeErr != nil {
			metrics.StoreWriteErrors.Inc()
			return writeErr
		}
		metrics.StoreWritesTotal.WithLabelValues(e.opts.BucketHighRate).Inc()
		logger.Debug().Int("points", len(points)).Msg("Wrote power points")
	}

	return e.powerRollover(ctx, snapshot.Timestamp)
}

// inverterLoop ticks at the base interval; the cadence gate decides when
// an inverter poll is actually due, so a failed poll is retried on the
// next tick instead of waiting out the full inverter interval.
func (e *Engine) inverterLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		if err := WaitForNextCycle(ctx, e.opts.Interval); err != nil {
			logger.Info().Msg("Inverter loop shutting down")
			return
		}
		if !e.gate.Due(e.now()) {
			continue
		}
		if err := e.runInverterCycle(ctx); err != nil && ctx.Err() == nil {
			reason := cycleFailureReason(err)
			logger.Warn().Err(err).Str("reason", reason).Msg("Inverter cycle skipped")
		}
	}
}

// runInverterCycle performs one dedup-poll-filter-write-rollover pass.
// A failed poll degrades to "no inverter data this cycle" and leaves the
// gate due; everything after a successful poll reports errors normally.
func (e *Engine) runInverterCycle(ctx context.Context) error {
	cutoff := e.inverterCutoff(ctx)

	start := time.Now()
	readings, err := e.device.GetInverterSnapshot(ctx)
	metrics.PollDuration.WithLabelValues("inverter").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.InverterPollsDegraded.Inc()
		logger.Warn().Err(err).
			Str("kind", pkgerrors.PollKind(err).String()).
			Msg("Inverter poll failed, no inverter data this cycle")
		return nil
	}
	e.gate.MarkPolled(e.now())
	metrics.InverterPollsTotal.Inc()

	fresh := filterNewReadings(readings, cutoff)
	if dropped := len(readings) - len(fresh); dropped > 0 {
		metrics.InverterReadingsFiltered.Add(float64(dropped))
		logger.Debug().Int("dropped", dropped).Time("cutoff", *cutoff).
			Msg("Dropped already-recorded inverter readings")
	}
	for serial, reading := range fresh {
		metrics.InverterPower.WithLabelValues(serial).Set(reading.Watts)
	}

	points := storage.InverterPoints(fresh, e.opts.SourceTag, e.opts.InverterTags)
	if len(points) > 0 {
		if writeErr := e.store.Write(ctx, e.opts.BucketHighRate, points); writeErr != nil {
			metrics.StoreWriteErrors.Inc()
			return writeErr
		}
		metrics.StoreWritesTotal.WithLabelValues(e.opts.BucketHighRate).Inc()
		logger.Debug().Int("points", len(points)).Msg("Wrote inverter points")
	}

	return e.inverterRollover(ctx)
}

// inverterCutoff queries the backend for the newest inverter timestamp
// already written. Best effort: a failed query means no filtering this
// cycle, favouring availability over strict dedup on backend hiccups.
func (e *Engine) inverterCutoff(ctx context.Context) *time.Time {
	cutoff, err := e.store.QueryLatestTimestamp(ctx, e.opts.SourceTag, storage.MeasurementTypeInverter, e.opts.WatermarkLookback)
	if err != nil {
		metrics.WatermarkQueryFailures.Inc()
		logger.Warn().Err(err).Msg("Watermark query failed, accepting all inverter readings this cycle")
		return nil
	}
	return cutoff
}

func (e *Engine) updatePowerGauges(snapshot *interfaces.PowerSnapshot) {
	for idx, line := range snapshot.TotalConsumption {
		metrics.CurrentPower.WithLabelValues("consumption", fmt.Sprintf("%d", idx)).Set(line.ActivePower)
	}
	for idx, line := range snapshot.TotalProduction {
		metrics.CurrentPower.WithLabelValues("production", fmt.Sprintf("%d", idx)).Set(line.ActivePower)
	}
	for idx, line := range snapshot.NetConsumption {
		metrics.CurrentPower.WithLabelValues("net", fmt.Sprintf("%d", idx)).Set(line.ActivePower)
	}
}

// cycleFailureReason names the failure class for logs and counters.
func cycleFailureReason(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrPollExhausted):
		return "exhausted"
	case pkgerrors.IsWriteError(err):
		return "write"
	case pkgerrors.IsQueryError(err):
		return "query"
	case pkgerrors.IsPollError(err):
		return pkgerrors.PollKind(err).String()
	default:
		return "unknown"
	}
}
