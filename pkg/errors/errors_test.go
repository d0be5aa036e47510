// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPollError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := NewPollError("inverter snapshot", KindConnection, cause)

	if !IsPollError(err) {
		t.Error("IsPollError() = false for a PollError")
	}
	if PollKind(err) != KindConnection {
		t.Errorf("PollKind() = %s, want connection", PollKind(err))
	}
	if !errors.Is(err, cause) {
		t.Error("PollError does not unwrap to its cause")
	}

	wrapped := fmt.Errorf("cycle failed: %w", err)
	if PollKind(wrapped) != KindConnection {
		t.Errorf("PollKind() through wrapping = %s, want connection", PollKind(wrapped))
	}
}

func TestPollKind_NonPollError(t *testing.T) {
	if got := PollKind(errors.New("plain")); got != KindUnknown {
		t.Errorf("PollKind(plain error) = %s, want unknown", got)
	}
	if got := PollKind(nil); got != KindUnknown {
		t.Errorf("PollKind(nil) = %s, want unknown", got)
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout poll error", NewPollError("power snapshot", KindTimeout, nil), true},
		{"connection poll error", NewPollError("power snapshot", KindConnection, nil), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindTimeout, "timeout"},
		{KindConnection, "connection"},
		{KindTLS, "tls"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestQueryError(t *testing.T) {
	cause := errors.New("influx unavailable")
	err := NewQueryError("daily integral", cause)

	if !IsQueryError(err) {
		t.Error("IsQueryError() = false for a QueryError")
	}
	if IsWriteError(err) {
		t.Error("IsWriteError() = true for a QueryError")
	}
	if !errors.Is(err, cause) {
		t.Error("QueryError does not unwrap to its cause")
	}
}

func TestWriteError(t *testing.T) {
	cause := errors.New("bucket not found")
	err := NewWriteError("power-daily", cause)

	if !IsWriteError(err) {
		t.Error("IsWriteError() = false for a WriteError")
	}
	if got := err.Error(); got == "" || !errors.Is(err, cause) {
		t.Errorf("WriteError.Error() = %q, unwrap ok = %v", got, errors.Is(err, cause))
	}
}

func TestWriteError_WrapsBreakerSentinel(t *testing.T) {
	err := NewWriteError("power-hr", ErrCircuitBreakerOpen)

	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Error("WriteError wrapping the breaker sentinel does not match errors.Is")
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("influxdb.url", errors.New("missing"))

	if !IsConfigError(err) {
		t.Error("IsConfigError() = false for a ConfigError")
	}
	if IsAuthError(err) {
		t.Error("IsAuthError() = true for a ConfigError")
	}
}

func TestAuthError(t *testing.T) {
	cause := errors.New("status 401")
	err := NewAuthError("login", cause)

	if !IsAuthError(err) {
		t.Error("IsAuthError() = false for an AuthError")
	}
	if !errors.Is(err, cause) {
		t.Error("AuthError does not unwrap to its cause")
	}
}
