package db

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Acquire after Shutdown has started.
var ErrPoolClosed = errors.New("connection pool is closed")

// PoolErrorKind classifies acquire failures.
type PoolErrorKind int

const (
	Timeout PoolErrorKind = iota + 1
	ConnectionFailure
)

func (k PoolErrorKind) String() string {
	switch k {
	case Timeout:
		return "Timeout"
	case ConnectionFailure:
		return "ConnectionFailure"
	default:
		return "Unknown"
	}
}

// PoolError reports why a connection could not be leased.
type PoolError struct {
	Kind PoolErrorKind
	Err  error
}

func (e *PoolError) Error() string {
	if e.Kind == Timeout {
		return fmt.Sprintf("timed out acquiring database connection: %v", e.Err)
	}
	return fmt.Sprintf("database connection failed: %v", e.Err)
}

func (e *PoolError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a pool acquire timeout.
func IsTimeout(err error) bool {
	var pe *PoolError
	return errors.As(err, &pe) && pe.Kind == Timeout
}
