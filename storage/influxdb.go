// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage provides time-series persistence for Envoy power data.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sony/gobreaker"
	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
	"github.com/soothill/envoy-data-logger/pkg/interfaces"
	"github.com/soothill/envoy-data-logger/pkg/logger"
)

const (
	breakerFailureThreshold = 5
	breakerResetTimeout     = 30 * time.Second
)

// InfluxDBStore implements interfaces.TimeSeriesStore against InfluxDB 2.x.
// Writes are synchronous so each cycle observes its own write failure.
// A circuit breaker keeps a dead backend from stalling every cycle on full
// timeouts; while open, calls fail fast and cycles are skipped as usual.
type InfluxDBStore struct {
	client      influxdb2.Client
	queryAPI    api.QueryAPI
	org         string
	queryBucket string // high-rate bucket; all dedup/integral queries run here
	breaker     *gobreaker.CircuitBreaker

	mu        sync.Mutex
	writeAPIs map[string]api.WriteAPIBlocking
}

// NewInfluxDBStore creates a new InfluxDB store and verifies the connection.
// queryBucket names the high-rate bucket the watermark and integral
// queries read from; writes name their bucket per call.
func NewInfluxDBStore(url, token, org, queryBucket string) (*InfluxDBStore, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influxdb",
		Timeout: breakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return &InfluxDBStore{
		client:      client,
		queryAPI:    client.QueryAPI(org),
		org:         org,
		queryBucket: queryBucket,
		breaker:     breaker,
		writeAPIs:   make(map[string]api.WriteAPIBlocking),
	}, nil
}

// Write writes a batch of points to the given bucket.
func (s *InfluxDBStore) Write(ctx context.Context, bucket string, points []interfaces.Point) error {
	if len(points) == 0 {
		return nil
	}

	writeAPI := s.writeAPI(bucket)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		for _, point := range points {
			fields := make(map[string]interface{}, len(point.Fields))
			for k, v := range point.Fields {
				fields[k] = v
			}
			p := influxdb2.NewPoint(point.Measurement, point.Tags, fields, point.Timestamp)
			if writeErr := writeAPI.WritePoint(ctx, p); writeErr != nil {
				return nil, writeErr
			}
		}
		return nil, nil
	})
	if err != nil {
		return pkgerrors.NewWriteError(bucket, breakerErr(err))
	}
	return nil
}

// QueryLatestTimestamp returns the newest previously-written timestamp for
// the given source and measurement type within the lookback window, or nil
// when nothing was found.
func (s *InfluxDBStore) QueryLatestTimestamp(ctx context.Context, sourceTag, measurementType string, lookback time.Duration) (*time.Time, error) {
	query := latestTimestampFlux(s.queryBucket, sourceTag, measurementType, lookback)

	var latest *time.Time
	_, err := s.breaker.Execute(func() (interface{}, error) {
		result, queryErr := s.queryAPI.Query(ctx, query)
		if queryErr != nil {
			return nil, queryErr
		}
		defer func() {
			_ = result.Close()
		}()

		for result.Next() {
			t := result.Record().Time()
			if !t.IsZero() {
				ts := t
				latest = &ts
			}
		}
		return nil, result.Err()
	})
	if err != nil {
		return nil, pkgerrors.NewQueryError("latest timestamp", breakerErr(err))
	}

	return latest, nil
}

// QueryIntegral computes a per-series integral of a field over a trailing window.
func (s *InfluxDBStore) QueryIntegral(ctx context.Context, q interfaces.IntegralQuery) ([]interfaces.IntegralGroup, error) {
	query := integralFlux(s.queryBucket, q)

	var groups []interfaces.IntegralGroup
	_, err := s.breaker.Execute(func() (interface{}, error) {
		result, queryErr := s.queryAPI.Query(ctx, query)
		if queryErr != nil {
			return nil, queryErr
		}
		defer func() {
			_ = result.Close()
		}()

		for result.Next() {
			record := result.Record()
			value, ok := record.Value().(float64)
			if !ok {
				continue
			}
			tags := make(map[string]string, len(q.GroupBy))
			for _, tag := range q.GroupBy {
				if v, tagOk := record.ValueByKey(tag).(string); tagOk {
					tags[tag] = v
				}
			}
			groups = append(groups, interfaces.IntegralGroup{Tags: tags, Value: value})
		}
		return nil, result.Err()
	})
	if err != nil {
		return nil, pkgerrors.NewQueryError("daily integral", breakerErr(err))
	}

	return groups, nil
}

// Health checks if the InfluxDB backend is healthy
func (s *InfluxDBStore) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("InfluxDB unhealthy: %s", health.Status)
	}
	return nil
}

// Flush is a no-op: writes are synchronous.
func (s *InfluxDBStore) Flush() {}

// Close closes the InfluxDB client
func (s *InfluxDBStore) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	s.client.Close()
}

// writeAPI returns the blocking write API for a bucket, creating it on
// first use. Write APIs are cached; the client hands out shareable handles.
func (s *InfluxDBStore) writeAPI(bucket string) api.WriteAPIBlocking {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeAPI, ok := s.writeAPIs[bucket]
	if !ok {
		writeAPI = s.client.WriteAPIBlocking(s.org, bucket)
		s.writeAPIs[bucket] = writeAPI
	}
	return writeAPI
}

// breakerErr maps gobreaker's open-state error onto the package sentinel
func breakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return pkgerrors.ErrCircuitBreakerOpen
	}
	return err
}

// latestTimestampFlux builds the watermark query: the newest _time across
// every series of one source and measurement type within the lookback.
func latestTimestampFlux(bucket, sourceTag, measurementType string, lookback time.Duration) string {
	return fmt.Sprintf(`
from(bucket: %q)
    |> range(start: -%ds)
    |> filter(fn: (r) => r[%q] == %q)
    |> filter(fn: (r) => r[%q] == %q)
    |> group()
    |> max(column: "_time")
    |> yield(name: "max")
`, bucket, int(lookback.Seconds()), TagSource, sourceTag, TagMeasurementType, measurementType)
}

// integralFlux builds the trailing-window integral query behind the daily
// rollovers. integral(unit: 1h) over the P field yields watt-hours.
func integralFlux(bucket string, q interfaces.IntegralQuery) string {
	var filters strings.Builder
	fmt.Fprintf(&filters, "    |> filter(fn: (r) => r[%q] == %q)\n", TagSource, q.SourceTag)
	fmt.Fprintf(&filters, "    |> filter(fn: (r) => r[\"_field\"] == %q)\n", q.Field)
	if q.MeasurementType != "" {
		fmt.Fprintf(&filters, "    |> filter(fn: (r) => r[%q] == %q)\n", TagMeasurementType, q.MeasurementType)
	}
	if q.ExcludeMeasurementType != "" {
		fmt.Fprintf(&filters, "    |> filter(fn: (r) => r[%q] != %q)\n", TagMeasurementType, q.ExcludeMeasurementType)
	}

	keep := make([]string, 0, len(q.GroupBy)+1)
	keep = append(keep, `"_value"`)
	for _, tag := range q.GroupBy {
		keep = append(keep, fmt.Sprintf("%q", tag))
	}

	return fmt.Sprintf(`
from(bucket: %q)
    |> range(start: -%ds, stop: 0s)
%s    |> integral(unit: 1h)
    |> keep(columns: [%s])
    |> yield(name: "total")
`, bucket, int(q.Window.Seconds()), filters.String(), strings.Join(keep, ", "))
}
