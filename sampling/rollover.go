// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampling

import (
	"context"
	"time"

	"github.com/soothill/envoy-data-logger/pkg/interfaces"
	"github.com/soothill/envoy-data-logger/pkg/logger"
	"github.com/soothill/envoy-data-logger/pkg/metrics"
	"github.com/soothill/envoy-data-logger/storage"
)

const rolloverWindow = 24 * time.Hour

// dayMarker tracks the last local date a rollover ran for one cadence.
// Each loop owns its own marker; the two loops cross midnight at
// different real-world moments.
type dayMarker struct {
	year  int
	month time.Month
	day   int
}

func newDayMarker(now time.Time) *dayMarker {
	m := &dayMarker{}
	m.set(now)
	return m
}

func (m *dayMarker) set(now time.Time) {
	m.year, m.month, m.day = now.Local().Date()
}

// Rolled reports whether the local date has changed since the last call
// that returned true, updating the marker when it has. Updating before
// the rollover work runs makes the check idempotent within a day: a
// failed rollover is not retried until the next day change.
func (m *dayMarker) Rolled(now time.Time) bool {
	year, month, day := now.Local().Date()
	if year == m.year && month == m.month && day == m.day {
		return false
	}
	m.set(now)
	return true
}

// powerRollover emits daily Wh totals for the meter line series when the
// local date changes. Zero integral groups means nothing to write.
func (e *Engine) powerRollover(ctx context.Context, ts time.Time) error {
	if !e.powerDay.Rolled(e.now()) {
		return nil
	}
	logger.Info().Msg("Power day rollover")

	groups, err := e.store.QueryIntegral(ctx, interfaces.IntegralQuery{
		Field:                  storage.FieldActivePower,
		Window:                 rolloverWindow,
		SourceTag:              e.opts.SourceTag,
		ExcludeMeasurementType: storage.MeasurementTypeInverter,
		GroupBy:                []string{storage.TagLineIdx, storage.TagMeasurementType},
	})
	if err != nil {
		metrics.RolloverQueryFailures.WithLabelValues("power").Inc()
		return err
	}

	points := storage.PowerDailyPoints(groups, ts, e.opts.SourceTag)
	if len(points) == 0 {
		logger.Info().Msg("Power rollover produced no series, nothing to write")
		return nil
	}

	if err := e.store.Write(ctx, e.opts.BucketDaily, points); err != nil {
		metrics.StoreWriteErrors.Inc()
		return err
	}
	metrics.StoreWritesTotal.WithLabelValues(e.opts.BucketDaily).Inc()
	metrics.RolloverPointsTotal.WithLabelValues("power").Add(float64(len(points)))
	logger.Info().Int("points", len(points)).Msg("Wrote power daily summary")
	return nil
}

// inverterRollover emits one daily Wh total per expected inverter when the
// local date changes, defaulting to 0.0 for inverters that never reported.
func (e *Engine) inverterRollover(ctx context.Context) error {
	now := e.now()
	if !e.inverterDay.Rolled(now) {
		return nil
	}
	logger.Info().Msg("Inverter day rollover")

	groups, err := e.store.QueryIntegral(ctx, interfaces.IntegralQuery{
		Field:           storage.FieldActivePower,
		Window:          rolloverWindow,
		SourceTag:       e.opts.SourceTag,
		MeasurementType: storage.MeasurementTypeInverter,
		GroupBy:         []string{storage.TagSerial},
	})
	if err != nil {
		metrics.RolloverQueryFailures.WithLabelValues("inverter").Inc()
		return err
	}

	points := storage.InverterDailyPoints(groups, e.opts.ExpectedSerials, now, e.opts.SourceTag, e.opts.InverterTags)
	if len(points) == 0 {
		logger.Info().Msg("Inverter rollover produced no series, nothing to write")
		return nil
	}

	if err := e.store.Write(ctx, e.opts.BucketDaily, points); err != nil {
		metrics.StoreWriteErrors.Inc()
		return err
	}
	metrics.StoreWritesTotal.WithLabelValues(e.opts.BucketDaily).Inc()
	metrics.RolloverPointsTotal.WithLabelValues("inverter").Add(float64(len(points)))
	logger.Info().Int("points", len(points)).Msg("Wrote inverter daily summary")
	return nil
}
