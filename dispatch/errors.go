package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// TransportError is a delivery failure carrying enough classification
// for the retry loop.
type TransportError struct {
	Sink       string
	StatusCode int // zero for non-HTTP transports
	Message    string
	Retryable  bool
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Sink, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Sink, e.Message)
}

// Temporary reports whether the failure is worth retrying.
func (e *TransportError) Temporary() bool {
	return e.Retryable
}

// httpError classifies an HTTP status: rate limits, timeouts, and
// server errors are transient; other client errors are terminal.
func httpError(sink string, status int, message string) *TransportError {
	return &TransportError{
		Sink:       sink,
		StatusCode: status,
		Message:    message,
		Retryable:  status == 408 || status == 429 || status >= 500,
	}
}

// IsTransient reports whether a delivery error should consume retry
// budget: self-classified temporary errors, network timeouts, and
// connection failures. Context cancellation and anything unrecognized
// is terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) {
		return temporary.Temporary()
	}

	return false
}
