package scope

import (
	"errors"
	"fmt"
)

var ErrNotConnected = errors.New("device is not connected")

// ConnectError is returned when a port cannot be opened or claimed.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %q: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

type AcquisitionErrorKind int

const (
	Timeout AcquisitionErrorKind = iota
	Malformed
	Disconnected
)

func (k AcquisitionErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Malformed:
		return "malformed frame"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// AcquisitionError fails a single acquisition. It never stops the
// acquisition loop itself.
type AcquisitionError struct {
	Kind AcquisitionErrorKind
	Err  error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return "acquisition failed: " + e.Kind.String()
	}
	return fmt.Sprintf("acquisition failed: %s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// IsDeviceLost reports whether err means the serial handle is gone.
func IsDeviceLost(err error) bool {
	var acqErr *AcquisitionError
	return errors.As(err, &acqErr) && acqErr.Kind == Disconnected
}

type InvalidTimebaseError struct {
	Input  string
	Reason string
}

func (e *InvalidTimebaseError) Error() string {
	return fmt.Sprintf("invalid timebase %q: %s", e.Input, e.Reason)
}

type InvalidTriggerSlopeError struct {
	Input string
}

func (e *InvalidTriggerSlopeError) Error() string {
	return fmt.Sprintf("invalid trigger slope %q: must be rising or falling", e.Input)
}
