package resilience

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// Retryable is implemented by errors that know whether repeating the call
// can succeed.
type Retryable interface {
	Retryable() bool
}

// Delayed is implemented by errors that carry a server-requested wait, such
// as a Retry-After header on HTTP 429.
type Delayed interface {
	RetryAfter() time.Duration
}

// IsRetryable reports whether err is worth another attempt: an error in the
// chain that says so, a network timeout, or a reset/refused connection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// retryAfter returns the wait requested by err, or 0.
func retryAfter(err error) time.Duration {
	var d Delayed
	if errors.As(err, &d) {
		return d.RetryAfter()
	}
	return 0
}

// RetryableStatus reports whether an HTTP status is a transient server-side
// condition.
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}
