package remote

import (
	"errors"
	"fmt"
)

// Common errors returned by remote operations.
//
// Check them with errors.Is / errors.As:
//
//	if remote.IsRetriable(err) {
//	    // row stays dirty, next scheduled sync retries it
//	}
var (
	// ErrNetworkUnavailable is returned when the request never reached
	// the service (DNS, connect, timeout). The whole sync attempt
	// should abort early and retry on the next trigger.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrUnauthorized is returned for 401/403 responses; the bearer
	// token needs refreshing before any retry makes sense.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is a non-2xx response from the attendance service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Body)
}

// IsRejected reports whether the service rejected the request
// outright (4xx class). Rejected writes are surfaced to the caller
// and never retried automatically.
func IsRejected(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500
	}
	return errors.Is(err, ErrUnauthorized)
}

// IsRetriable reports whether a retry may succeed: transport failures
// and 5xx-class responses. Rows that fail this way stay dirty and are
// picked up by the next scheduled attempt.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return false
}
