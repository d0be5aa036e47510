// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package envoy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"syscall"

	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
)

// classifyTransport maps a transport error onto the engine's failure
// taxonomy. The retry policy only retries timeouts; connection and TLS
// failures skip the cycle instead.
func classifyTransport(err error) pkgerrors.Kind {
	if err == nil {
		return pkgerrors.KindUnknown
	}

	if isTLSFailure(err) {
		return pkgerrors.KindTLS
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return pkgerrors.KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return pkgerrors.KindTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return pkgerrors.KindConnection
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return pkgerrors.KindConnection
	}

	return pkgerrors.KindUnknown
}

// isTLSFailure reports whether err is a TLS handshake or certificate error
func isTLSFailure(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidCert x509.CertificateInvalidError
	return errors.As(err, &invalidCert)
}
