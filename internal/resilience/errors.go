package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry, such as storage
// contention or a dropped connection.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks an error as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// transientPatterns matches wrapped storage and network errors that lose
// their type through driver boundaries.
var transientPatterns = []string{
	"database is locked",
	"database table is locked",
	"deadlock detected",
	"connection reset by peer",
	"broken pipe",
	"connection refused",
	"i/o timeout",
	"too many connections",
	"conn closed",
	"conn busy",
}

// IsTransient reports whether the error (or anything in its chain) is worth
// retrying: an explicit TransientError, a network timeout, a connection
// failure, or a known storage contention message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
