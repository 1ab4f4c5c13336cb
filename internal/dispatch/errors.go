package dispatch

import (
	"errors"
	"fmt"
)

// PermanentClientError is a non-retryable 4xx. Retrying these only burns
// request budget, so they surface immediately.
type PermanentClientError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *PermanentClientError) Error() string {
	return fmt.Sprintf("permanent client error %d on %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// RetryExhaustedError is a transient failure that persisted past the
// configured retry count. Fatal to the call, not to the cycle.
type RetryExhaustedError struct {
	Attempts   int
	StatusCode int
	Endpoint   string
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("giving up on %s after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
	}
	return fmt.Sprintf("giving up on %s after %d attempts (last status %d)", e.Endpoint, e.Attempts, e.StatusCode)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

func IsPermanentClient(err error) bool {
	var pe *PermanentClientError
	return errors.As(err, &pe)
}
