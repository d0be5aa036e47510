// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/soothill/envoy-data-logger/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"
)

func startInflux(t *testing.T, ctx context.Context) (*InfluxDBStore, func()) {
	t.Helper()

	influxContainer, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("test-org", "power-hr", "test-user", "test-password"),
		influxdb.WithV2AdminToken("test-token"),
	)
	if err != nil {
		t.Fatalf("Failed to start InfluxDB container: %v", err)
	}

	url, err := influxContainer.ConnectionUrl(ctx)
	if err != nil {
		_ = influxContainer.Terminate(ctx)
		t.Fatalf("Failed to get InfluxDB URL: %v", err)
	}

	store, err := NewInfluxDBStore(url, "test-token", "test-org", "power-hr")
	if err != nil {
		_ = influxContainer.Terminate(ctx)
		t.Fatalf("Failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		if err := influxContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}
	return store, cleanup
}

// TestIntegration_WriteAndWatermark writes inverter points and reads the
// newest timestamp back through the watermark query
func TestIntegration_WriteAndWatermark(t *testing.T) {
	ctx := context.Background()
	store, cleanup := startInflux(t, ctx)
	defer cleanup()

	older := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	newest := time.Now().Add(-5 * time.Minute).Truncate(time.Second)

	points := []interfaces.Point{
		{
			Measurement: "inverter-production-SN1",
			Timestamp:   older,
			Tags: map[string]string{
				TagSource:          "envoy-123",
				TagMeasurementType: MeasurementTypeInverter,
				TagSerial:          "SN1",
			},
			Fields: map[string]float64{FieldActivePower: 180},
		},
		{
			Measurement: "inverter-production-SN2",
			Timestamp:   newest,
			Tags: map[string]string{
				TagSource:          "envoy-123",
				TagMeasurementType: MeasurementTypeInverter,
				TagSerial:          "SN2",
			},
			Fields: map[string]float64{FieldActivePower: 200},
		},
	}

	if err := store.Write(ctx, "power-hr", points); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	latest, err := store.QueryLatestTimestamp(ctx, "envoy-123", MeasurementTypeInverter, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("QueryLatestTimestamp() error = %v", err)
	}
	if latest == nil {
		t.Fatal("QueryLatestTimestamp() = nil after writing points")
	}
	assert.True(t, latest.Equal(newest), "QueryLatestTimestamp() = %v, want %v", latest, newest)
}

// TestIntegration_WatermarkEmptyBucket verifies nil comes back when
// nothing was ever written
func TestIntegration_WatermarkEmptyBucket(t *testing.T) {
	ctx := context.Background()
	store, cleanup := startInflux(t, ctx)
	defer cleanup()

	latest, err := store.QueryLatestTimestamp(ctx, "envoy-123", MeasurementTypeInverter, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("QueryLatestTimestamp() error = %v", err)
	}
	assert.Nil(t, latest, "QueryLatestTimestamp() on an empty bucket should return nil")
}

// TestIntegration_Integral writes a constant power series and checks the
// trailing-window integral comes out in watt-hours
func TestIntegration_Integral(t *testing.T) {
	ctx := context.Background()
	store, cleanup := startInflux(t, ctx)
	defer cleanup()

	// One hour of constant 1200W sampled each minute integrates to ~1200Wh
	base := time.Now().Add(-61 * time.Minute)
	points := make([]interfaces.Point, 0, 61)
	for i := 0; i <= 60; i++ {
		points = append(points, interfaces.Point{
			Measurement: "consumption-line0",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Tags: map[string]string{
				TagSource:          "envoy-123",
				TagMeasurementType: "consumption",
				TagLineIdx:         "0",
			},
			Fields: map[string]float64{FieldActivePower: 1200},
		})
	}
	if err := store.Write(ctx, "power-hr", points); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	groups, err := store.QueryIntegral(ctx, interfaces.IntegralQuery{
		Field:                  FieldActivePower,
		Window:                 24 * time.Hour,
		SourceTag:              "envoy-123",
		ExcludeMeasurementType: MeasurementTypeInverter,
		GroupBy:                []string{TagLineIdx, TagMeasurementType},
	})
	if err != nil {
		t.Fatalf("QueryIntegral() error = %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("QueryIntegral() returned %d groups, want 1", len(groups))
	}

	group := groups[0]
	assert.Equal(t, "0", group.Tags[TagLineIdx])
	assert.Equal(t, "consumption", group.Tags[TagMeasurementType])
	assert.InDelta(t, 1200, group.Value, 100, "integral should be roughly 1200 Wh")
}

// TestIntegration_IntegralExcludesInverters verifies the power rollover
// query never mixes inverter series into the line totals
func TestIntegration_IntegralExcludesInverters(t *testing.T) {
	ctx := context.Background()
	store, cleanup := startInflux(t, ctx)
	defer cleanup()

	now := time.Now()
	points := []interfaces.Point{
		{
			Measurement: "consumption-line0",
			Timestamp:   now.Add(-2 * time.Minute),
			Tags: map[string]string{
				TagSource:          "envoy-123",
				TagMeasurementType: "consumption",
				TagLineIdx:         "0",
			},
			Fields: map[string]float64{FieldActivePower: 500},
		},
		{
			Measurement: "consumption-line0",
			Timestamp:   now.Add(-1 * time.Minute),
			Tags: map[string]string{
				TagSource:          "envoy-123",
				TagMeasurementType: "consumption",
				TagLineIdx:         "0",
			},
			Fields: map[string]float64{FieldActivePower: 500},
		},
		{
			Measurement: "inverter-production-SN1",
			Timestamp:   now.Add(-1 * time.Minute),
			Tags: map[string]string{
				TagSource:          "envoy-123",
				TagMeasurementType: MeasurementTypeInverter,
				TagSerial:          "SN1",
			},
			Fields: map[string]float64{FieldActivePower: 300},
		},
	}
	if err := store.Write(ctx, "power-hr", points); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	groups, err := store.QueryIntegral(ctx, interfaces.IntegralQuery{
		Field:                  FieldActivePower,
		Window:                 24 * time.Hour,
		SourceTag:              "envoy-123",
		ExcludeMeasurementType: MeasurementTypeInverter,
		GroupBy:                []string{TagLineIdx, TagMeasurementType},
	})
	if err != nil {
		t.Fatalf("QueryIntegral() error = %v", err)
	}

	for _, group := range groups {
		assert.NotEqual(t, MeasurementTypeInverter, group.Tags[TagMeasurementType],
			"integral result must not contain inverter series")
	}
}
