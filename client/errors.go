package client

import (
	"errors"
	"fmt"
)

// NetworkError marks a transient transport failure. Safe to retry the
// transfer step only; any retry that re-encrypts must regenerate IVs, which
// the orchestrator does by building a fresh envelope per attempt.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is (or wraps) a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// APIError is a non-transient backend rejection (4xx), carrying the server's
// error message. Not retryable.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Message)
}
