package flash

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBctRequired is returned before any device traffic when an operation
	// that rewrites the BCT or the partition layout runs without WithBct.
	ErrBctRequired = errors.New("bct file required for this command")

	// ErrCustomEntry is returned once a bootloader with an overridden load
	// address or entry point has been accepted. The device now runs that
	// image instead of the protocol server, so Run stops and reports
	// success.
	ErrCustomEntry = errors.New("bootloader started at custom entry point")

	// ErrNoDevices is returned by Create and Download when no partition
	// configuration was supplied with WithDevices.
	ErrNoDevices = errors.New("no partition configuration")

	// ErrBootloaderRequired is returned when the bootloader must be
	// downloaded but no file was given and the session does not resume.
	ErrBootloaderRequired = errors.New("bootloader file required")
)

// PartitionNotFoundError indicates that a partition name matches neither
// the configuration nor the table stored on the device.
type PartitionNotFoundError struct {
	Name string
}

func (e *PartitionNotFoundError) Error() string {
	return fmt.Sprintf("partition %s not found", e.Name)
}

// SizeError indicates a payload that does not fit its destination.
type SizeError struct {
	Partition string
	Size      uint64
	Capacity  uint64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("data too large for partition %s: %d bytes, capacity %d bytes",
		e.Partition, e.Size, e.Capacity)
}

// VerifyError lists the partitions that failed verification.
type VerifyError struct {
	Failed []string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed for partition(s): %s", strings.Join(e.Failed, ", "))
}

// UsageError indicates a command list that cannot run as given.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}
