// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the Envoy power data logger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PowerPollsTotal tracks the total number of successful power polls
	PowerPollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "envoy_power_polls_total",
		Help: "Total number of successful power snapshot polls",
	})

	// PowerPollRetriesTotal tracks the number of timeout retries during power polls
	PowerPollRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "envoy_power_poll_retries_total",
		Help: "Total number of power poll retry attempts after timeouts",
	})

	// PowerCyclesSkipped tracks power cycles skipped after a failed poll or write
	PowerCyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "envoy_power_cycles_skipped_total",
		Help: "Total number of skipped power cycles by failure kind",
	}, []string{"reason"})

	// InverterPollsTotal tracks the total number of successful inverter polls
	InverterPollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "envoy_inverter_polls_total",
		Help: "Total number of successful inverter snapshot polls",
	})

	// InverterPollsDegraded tracks inverter polls that degraded to no data
	InverterPollsDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "envoy_inverter_polls_degraded_total",
		Help: "Total number of inverter polls that failed and degraded to no data",
	})

	// InverterReadingsFiltered tracks readings dropped by the watermark filter
	InverterReadingsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "envoy_inverter_readings_filtered_total",
		Help: "Total number of inverter readings dropped as already recorded",
	})

	// WatermarkQueryFailures tracks failed watermark cutoff queries
	WatermarkQueryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "envoy_watermark_query_failures_total",
		Help: "Total number of failed last-inverter-timestamp queries",
	})

	// StoreWritesTotal tracks the total number of writes to the time-series store
	StoreWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "envoy_store_writes_total",
		Help: "Total number of point batches written to the time-series store",
	}, []string{"bucket"})

	// StoreWriteErrors tracks the number of failed writes
	StoreWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "envoy_store_write_errors_total",
		Help: "Total number of failed writes to the time-series store",
	})

	// RolloverPointsTotal tracks daily summary points emitted per cadence
	RolloverPointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "envoy_rollover_points_total",
		Help: "Total number of daily summary points emitted",
	}, []string{"cadence"})

	// RolloverQueryFailures tracks failed daily integral queries
	RolloverQueryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "envoy_rollover_query_failures_total",
		Help: "Total number of failed daily integral queries",
	}, []string{"cadence"})

	// PollDuration tracks how long a device poll takes
	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "envoy_poll_duration_seconds",
		Help:    "Duration of device polls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// CurrentPower tracks the most recent net active power per line
	CurrentPower = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "envoy_current_power_watts",
		Help: "Most recent active power reading in watts",
	}, []string{"measurement_type", "line_idx"})

	// InverterPower tracks the most recent production per inverter
	InverterPower = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "envoy_inverter_power_watts",
		Help: "Most recent inverter production in watts",
	}, []string{"serial"})
)
