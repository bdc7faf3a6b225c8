package session

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrCommandTimeout reports that a command exceeded its execution time bound.
var ErrCommandTimeout = errors.New("command timed out")

// ErrorKind classifies a connection failure for the caller-visible message.
type ErrorKind int

// Connection error kinds.
const (
	KindOther ErrorKind = iota
	KindNetworkUnreachable
	KindHostNotFound
	KindConnectionRefused
	KindTimedOut
	KindAuthFailed
	KindProtocol
)

// ConnectionError wraps a transport failure with the host name and a
// classification. The classification only shapes the message shown to the
// caller, it never drives control flow.
type ConnectionError struct {
	Host string
	Kind ErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case KindNetworkUnreachable:
		return fmt.Sprintf("connection to %q failed: network is unreachable", e.Host)
	case KindHostNotFound:
		return fmt.Sprintf("connection to %q failed: host not found", e.Host)
	case KindConnectionRefused:
		return fmt.Sprintf("connection to %q failed: connection refused", e.Host)
	case KindTimedOut:
		return fmt.Sprintf("connection to %q failed: connection timed out", e.Host)
	case KindAuthFailed:
		return fmt.Sprintf("connection to %q failed: authentication failed", e.Host)
	case KindProtocol:
		return fmt.Sprintf("connection to %q failed: SSH protocol error: %v", e.Host, e.Err)
	default:
		return fmt.Sprintf("connection to %q failed: %v", e.Host, e.Err)
	}
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func newConnectionError(host string, err error) *ConnectionError {
	return &ConnectionError{Host: host, Kind: classify(err), Err: err}
}

// classify maps an underlying dial, handshake or key error onto an ErrorKind.
// Structured errors (errno, DNS, net.Error) are checked first; the x/crypto
// ssh package only exposes strings for auth and protocol failures.
func classify(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindHostNotFound
	}

	switch {
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return KindNetworkUnreachable
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, syscall.ETIMEDOUT):
		return KindTimedOut
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimedOut
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return KindAuthFailed
	case strings.Contains(msg, "ssh:"):
		return KindProtocol
	}

	return KindOther
}
