package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports unknown, missing or invalid backend options
	ErrConfig = errors.New("invalid queue store configuration")
	// ErrOpen reports a database file that can't be opened
	ErrOpen = errors.New("can't open queue store")
	// ErrSchema reports a failed table lookup or creation
	ErrSchema = errors.New("can't setup queue table")
	// ErrAlloc reports a query buffer that can't grow
	ErrAlloc = errors.New("can't allocate query buffer")
	// ErrDriver is matched by every *DriverError
	ErrDriver = errors.New("sqlite driver error")
	// ErrTxAborted is returned while a failed commit has not been cleared with Reset
	ErrTxAborted = errors.New("queue store transaction aborted")
)

// DriverError wraps a failure reported by the sqlite driver for the given operation.
// Constraint violations, including duplicate unique keys, are reported as DriverError too.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error
func (e *DriverError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDriver) true for any DriverError
func (e *DriverError) Is(target error) bool { return target == ErrDriver }

func driverErr(op string, err error) error {
	return &DriverError{Op: op, Err: err}
}
