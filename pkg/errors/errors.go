// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the Envoy power data logger.
//
// The sampling engine distinguishes failure kinds because its retry and
// degrade policies depend on them: timeouts are retryable for the power
// poll, connection and TLS failures skip the cycle, query failures degrade
// to unfiltered/empty-result behaviour, and write failures skip the write
// but never stop a loop.
//
// # Example Usage
//
//	err := errors.NewPollError("power snapshot", errors.KindTimeout, cause)
//	if errors.IsTimeout(err) {
//	    // eligible for retry
//	}
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Kind classifies a transport-level failure from the device endpoint.
type Kind int

const (
	// KindUnknown is a failure that could not be classified.
	KindUnknown Kind = iota
	// KindTimeout is a connect or read timeout. Retryable for the power poll.
	KindTimeout
	// KindConnection is a refused, reset or otherwise broken connection.
	KindConnection
	// KindTLS is a TLS handshake or certificate failure.
	KindTLS
)

// String returns a log-friendly name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// PollError represents a failed poll of the device endpoint.
type PollError struct {
	Op   string // Operation being performed (e.g., "power snapshot", "inverter snapshot")
	Kind Kind   // Transport failure classification
	Err  error  // Underlying error
}

func (e *PollError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("poll %s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("poll %s failed (%s)", e.Op, e.Kind)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// NewPollError creates a new poll error with an explicit kind.
func NewPollError(op string, kind Kind, err error) *PollError {
	return &PollError{Op: op, Kind: kind, Err: err}
}

// IsPollError checks if an error is a PollError.
func IsPollError(err error) bool {
	var pe *PollError
	return errors.As(err, &pe)
}

// PollKind returns the transport kind carried by err, or KindUnknown when
// err is not a PollError.
func PollKind(err error) Kind {
	var pe *PollError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsTimeout reports whether err is a timeout-class poll failure. Only these
// are retried by the power retry policy.
func IsTimeout(err error) bool {
	if PollKind(err) == KindTimeout {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}

// QueryError represents a failed read query against the time-series store.
type QueryError struct {
	Op  string // Query being performed (e.g., "latest inverter timestamp", "daily integral")
	Err error  // Underlying error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("query %s failed", e.Op)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError creates a new query error.
func NewQueryError(op string, err error) *QueryError {
	return &QueryError{Op: op, Err: err}
}

// IsQueryError checks if an error is a QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// WriteError represents a failed write to the time-series store.
type WriteError struct {
	Bucket string // Destination bucket
	Err    error  // Underlying error
}

func (e *WriteError) Error() string {
	if e.Bucket != "" {
		return fmt.Sprintf("write to bucket %q: %v", e.Bucket, e.Err)
	}
	return fmt.Sprintf("write: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewWriteError creates a new write error.
func NewWriteError(bucket string, err error) *WriteError {
	return &WriteError{Bucket: bucket, Err: err}
}

// IsWriteError checks if an error is a WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// AuthError represents a failure obtaining or refreshing the Envoy access token.
type AuthError struct {
	Op  string // Step being performed (e.g., "login", "fetch token")
	Err error  // Underlying error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("auth %s failed", e.Op)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new auth error.
func NewAuthError(op string, err error) *AuthError {
	return &AuthError{Op: op, Err: err}
}

// IsAuthError checks if an error is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Sentinel errors for common conditions
var (
	// ErrPollExhausted indicates the power poll retry budget was spent
	ErrPollExhausted = errors.New("poll retries exhausted")

	// ErrDeviceNotFound indicates no Envoy was found on the network
	ErrDeviceNotFound = errors.New("device not found")

	// ErrCircuitBreakerOpen indicates the store circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
