package client

import (
	"errors"
	"fmt"
)

// ClientError is returned by Query once retries are exhausted, a permanent
// failure is seen, or the context ends. Message carries the last failure's text.
type ClientError struct {
	Attempts   int
	StatusCode int // last HTTP status, 0 when no response was received
	Message    string
	Err        error
}

func newClientError(attempts int, err error) *ClientError {
	ce := &ClientError{Attempts: attempts, Message: err.Error(), Err: err}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		ce.StatusCode = apiErr.StatusCode
		ce.Message = apiErr.Message
	}
	return ce
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("query failed after %d attempt(s): %s", e.Attempts, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}
