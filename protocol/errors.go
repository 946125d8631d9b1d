package protocol

import (
	"errors"
	"fmt"
)

// StatusError represents a Status reply whose code is not StatusOk.
type StatusError struct {
	// Operation is the command that failed
	Operation string

	// Code is the status code reported by the device
	Code StatusCode

	// Message is the device-supplied text, unmodified
	Message string

	// Nack is the last NACK code recorded by the transport, if any
	Nack NackCode
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s failed: %s (status %d)", e.Operation, e.Code, uint32(e.Code))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Nack != 0 && e.Nack != NackSuccess {
		msg += fmt.Sprintf(" [nack: %s]", e.Nack)
	}
	return msg
}

// IsStatusError returns true if err wraps a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsNotSupported returns true if err wraps a StatusError carrying
// StatusNotSupported.
func IsNotSupported(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == StatusNotSupported
}

// IsNoPartitionTable returns true if err wraps a StatusError carrying
// StatusPartitionTableRequired, the reply of a device never partitioned.
func IsNoPartitionTable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == StatusPartitionTableRequired
}
