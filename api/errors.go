// Package api defines the public contracts of the benchmark: messages, the
// MessageQ-style transport and the errors surfaced across package boundaries.
package api

import (
	"errors"
	"fmt"
)

// Status is the numeric status code reported alongside a failed operation.
type Status int32

const (
	StatusSuccess       Status = 0
	StatusFail          Status = -1
	StatusInvalidArg    Status = -2
	StatusMemory        Status = -3
	StatusAlreadyExists Status = -4
	StatusNotFound      Status = -5
	StatusTimeout       Status = -6
	StatusInvalidState  Status = -7
	StatusOSFailure     Status = -8
	StatusUnblocked     Status = -9
	StatusIntegrity     Status = -10
)

var statusNames = map[Status]string{
	StatusSuccess:       "S_SUCCESS",
	StatusFail:          "E_FAIL",
	StatusInvalidArg:    "E_INVALIDARG",
	StatusMemory:        "E_MEMORY",
	StatusAlreadyExists: "E_ALREADYEXISTS",
	StatusNotFound:      "E_NOTFOUND",
	StatusTimeout:       "E_TIMEOUT",
	StatusInvalidState:  "E_INVALIDSTATE",
	StatusOSFailure:     "E_OSFAILURE",
	StatusUnblocked:     "E_UNBLOCKED",
	StatusIntegrity:     "E_INTEGRITY",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// OpError records the failed operation, its status code and the cause.
type OpError struct {
	Op     string
	Status Status
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s failed [%s 0x%x]: %v", e.Op, e.Status, uint32(e.Status), e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError wraps err for op. A nil err yields nil.
func NewOpError(op string, status Status, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Status: status, Err: err}
}

// StatusOf returns the status code carried by err, StatusSuccess for nil and
// StatusFail when err carries none.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Status
	}
	return StatusFail
}
