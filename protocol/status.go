package protocol

import "fmt"

// StatusCode is the code carried by a Status reply.
type StatusCode uint32

// Status codes reported by the device. The enumeration is dense; the
// description table below is used verbatim in user-facing errors.
const (
	StatusOk StatusCode = iota
	StatusUnknown
	StatusNotBootDevice
	StatusNotSupported
	StatusInvalidPartition
	StatusInvalidPartitionTable
	StatusPartitionCreationFailed
	StatusPartitionTableRequired
	StatusInvalidState
	StatusInvalidCmdAfterVerify
	StatusBctRequired
	StatusInvalidDevice
	StatusMassStorageFailure
	StatusNotImplemented
	StatusBadParameter
	StatusDataTransferFailure
	StatusInvalidCommand
	StatusBctNotFound
	StatusBootloaderNotFound
	StatusPartitionTooSmall
	StatusVerifyFailed
	StatusFuseBypassFailed
	StatusFuseBypassSpeedoIddqCheckFailure
	StatusFuseWriteFailed
	StatusNctReadFailed
	StatusNctWriteFailed
	StatusBdkTestFailed
)

var statusDescriptions = []string{
	StatusOk:                               "success",
	StatusUnknown:                          "unknown error",
	StatusNotBootDevice:                    "not a boot device",
	StatusNotSupported:                     "operation not supported",
	StatusInvalidPartition:                 "invalid partition",
	StatusInvalidPartitionTable:            "invalid partition table",
	StatusPartitionCreationFailed:          "partition creation failed",
	StatusPartitionTableRequired:           "partition table required",
	StatusInvalidState:                     "invalid state",
	StatusInvalidCmdAfterVerify:            "command not allowed after verify",
	StatusBctRequired:                      "bct required",
	StatusInvalidDevice:                    "invalid device",
	StatusMassStorageFailure:               "mass storage failure",
	StatusNotImplemented:                   "not implemented",
	StatusBadParameter:                     "bad parameter",
	StatusDataTransferFailure:              "data transfer failure",
	StatusInvalidCommand:                   "invalid command",
	StatusBctNotFound:                      "bct not found",
	StatusBootloaderNotFound:               "bootloader not found",
	StatusPartitionTooSmall:                "partition too small",
	StatusVerifyFailed:                     "partition verification failed",
	StatusFuseBypassFailed:                 "fuse bypass failed",
	StatusFuseBypassSpeedoIddqCheckFailure: "fuse bypass speedo/iddq check failed",
	StatusFuseWriteFailed:                  "fuse write failed",
	StatusNctReadFailed:                    "nct item read failed",
	StatusNctWriteFailed:                   "nct item write failed",
	StatusBdkTestFailed:                    "bdk test failed",
}

// String returns the human-readable description of the code.
func (c StatusCode) String() string {
	if int(c) < len(statusDescriptions) {
		return statusDescriptions[c]
	}
	return fmt.Sprintf("unknown status code %d", uint32(c))
}
