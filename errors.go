package qobserve

import (
	"errors"
	"fmt"
)

// ErrNonFiniteCoefficient is returned when an Observable term carries NaN or ±Inf.
var ErrNonFiniteCoefficient = errors.New("observable coefficient is not finite")

// ErrResolveTimeout is returned when a Future did not complete within the
// configured resolve timeout. The handle is not consumed and may be resolved again.
var ErrResolveTimeout = errors.New("timed out waiting for dispatch result")

// ErrPoolClosed is returned for submissions made after the pool has been closed.
var ErrPoolClosed = errors.New("device pool is closed")

// InvalidDeviceError reports a device index outside [0, PoolSize).
type InvalidDeviceError struct {
	Index    int
	PoolSize int
}

func (e *InvalidDeviceError) Error() string {
	return fmt.Sprintf("invalid device index %d (pool size %d)", e.Index, e.PoolSize)
}

// DeviceBusyError is returned by the reject admission policy, by a queue that
// stayed full past the scheduling timeout, or by a device whose breaker is open.
type DeviceBusyError struct {
	Device int
	Open   bool
}

func (e *DeviceBusyError) Error() string {
	if e.Open {
		return fmt.Sprintf("device %d is unavailable: circuit breaker open", e.Device)
	}
	return fmt.Sprintf("device %d is busy", e.Device)
}

// EmptyBatchError reports a zero-row batch or a zero-term observable.
type EmptyBatchError struct {
	What string
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("empty %s", e.What)
}

// ParameterLengthMismatchError reports a row whose length differs from the
// kernel's declared parameter count. Row is -1 for single-vector calls.
type ParameterLengthMismatchError struct {
	Row  int
	Got  int
	Want int
}

func (e *ParameterLengthMismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("parameter vector has length %d, kernel expects %d", e.Got, e.Want)
	}
	return fmt.Sprintf("parameter row %d has length %d, kernel expects %d", e.Row, e.Got, e.Want)
}

// AlreadyResolvedError is returned when a Future is resolved a second time.
type AlreadyResolvedError struct {
	ID string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("dispatch %s already resolved", e.ID)
}

// EvaluationFailedError wraps a backend-side failure with the coordinates of
// the unit that produced it. Row and Group are -1 when not applicable.
type EvaluationFailedError struct {
	Row    int
	Device int
	Group  int
	Cause  error
}

func (e *EvaluationFailedError) Error() string {
	return fmt.Sprintf(
		"evaluation failed (row %d, device %d, group %d): %v",
		e.Row, e.Device, e.Group, e.Cause,
	)
}

func (e *EvaluationFailedError) Unwrap() error {
	return e.Cause
}
