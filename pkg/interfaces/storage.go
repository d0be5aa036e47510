// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
	"time"
)

// Point is an opaque measurement record submitted to the time-series store.
// The engine constructs points; backend implementations own the encoding.
type Point struct {
	Measurement string
	Timestamp   time.Time
	Tags        map[string]string
	Fields      map[string]float64
}

// IntegralQuery describes a trailing-window integral over a single field.
type IntegralQuery struct {
	Field     string        // Field to integrate (e.g., "P")
	Window    time.Duration // Trailing window (e.g., 24h)
	SourceTag string        // Value of the "source" tag to match

	// MeasurementType restricts to series with that measurement-type tag;
	// ExcludeMeasurementType excludes them instead. At most one is set.
	MeasurementType        string
	ExcludeMeasurementType string

	GroupBy []string // Tag keys carried through into each result group
}

// IntegralGroup is one row of an integral query result.
type IntegralGroup struct {
	Tags  map[string]string // GroupBy tag values for this series
	Value float64           // Integral over the window, in field-unit-hours
}

// TimeSeriesStore defines the interface for time-series data persistence.
// Implementations must be safe for concurrent use by independent callers.
type TimeSeriesStore interface {
	// Write writes a batch of points to the given bucket
	Write(ctx context.Context, bucket string, points []Point) error

	// QueryLatestTimestamp returns the newest timestamp previously written
	// for the given source and measurement type within the lookback window,
	// or nil when nothing was found
	QueryLatestTimestamp(ctx context.Context, sourceTag, measurementType string, lookback time.Duration) (*time.Time, error)

	// QueryIntegral computes a per-series integral over a trailing window
	QueryIntegral(ctx context.Context, q IntegralQuery) ([]IntegralGroup, error)

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error

	// Flush ensures all pending writes are completed
	Flush()

	// Close gracefully shuts down the storage connection
	Close()
}
