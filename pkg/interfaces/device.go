// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"
	"time"
)

// LineSample is one per-line measurement from the Envoy's eim meters.
type LineSample struct {
	ActivePower   float64 // P, watts
	ReactivePower float64 // Q, VAR
	ApparentPower float64 // S, VA
	RMSCurrent    float64 // amperes
	RMSVoltage    float64 // volts
}

// PowerSnapshot is a timestamped reading of all three channel groups.
// Immutable once produced; consumed once per power-cycle tick.
type PowerSnapshot struct {
	Timestamp        time.Time
	TotalConsumption []LineSample
	TotalProduction  []LineSample
	NetConsumption   []LineSample
}

// InverterReading is the last-known production report of a single inverter.
type InverterReading struct {
	Serial    string
	Timestamp time.Time
	Watts     float64
}

// DeviceClient defines the interface for polling the Envoy.
// Both methods must be safe for concurrent use; the power and inverter
// loops call them independently.
type DeviceClient interface {
	// GetPowerSnapshot reads the current per-line power data
	GetPowerSnapshot(ctx context.Context) (*PowerSnapshot, error)

	// GetInverterSnapshot reads per-inverter production, keyed by serial.
	// The Envoy caches inverter reports internally, so consecutive calls
	// may return overlapping historical readings.
	GetInverterSnapshot(ctx context.Context) (map[string]InverterReading, error)
}
