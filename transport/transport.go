// Package transport defines the command/data channel the flashing session
// runs over, and provides Loopback, an in-memory simulated device.
//
// Packet framing, USB enumeration and the recovery-mode handshake are the
// concern of concrete implementations; the session engine only relies on the
// primitives below. Every call blocks until the device replies.
package transport

import (
	"context"

	"github.com/moffa90/go-nvflash/protocol"
)

// Mode selects how a transport reaches the device.
type Mode int

const (
	// ModeDefault lets the implementation pick; it is treated as ModeUSB.
	ModeDefault Mode = iota

	// ModeUSB talks to a device attached over USB.
	ModeUSB

	// ModeSimulation talks to a simulated device. Backups and the lazy
	// bootloader download are skipped in this mode.
	ModeSimulation
)

func (m Mode) String() string {
	switch m {
	case ModeUSB:
		return "usb"
	case ModeSimulation:
		return "simulation"
	default:
		return "default"
	}
}

// Transport is a command/data channel to a device running the protocol server.
type Transport interface {
	// Open connects to device instance using mode.
	Open(ctx context.Context, mode Mode, instance uint32) error

	// Close releases the channel.
	Close() error

	// CommandSend sends cmd and fills in its output fields from the reply.
	CommandSend(ctx context.Context, cmd protocol.Command) error

	// CommandReceive receives the next command sent by the device, normally
	// a *protocol.Status.
	CommandReceive(ctx context.Context) (protocol.Command, error)

	// CommandComplete acknowledges a command received from the device.
	CommandComplete(ctx context.Context, cmd protocol.Command) error

	// DataSend sends a data phase payload.
	DataSend(ctx context.Context, data []byte) error

	// DataReceive reads data phase bytes into buf.
	DataReceive(ctx context.Context, buf []byte) (int, error)

	// TransferFail aborts the current data phase with code.
	TransferFail(ctx context.Context, code uint32) error

	Ack(ctx context.Context) error
	Nack(ctx context.Context, code protocol.NackCode) error

	// LastNackCode returns the code of the last NACK received from the device.
	LastNackCode() protocol.NackCode

	// Mode returns the mode the channel was opened with.
	Mode() Mode
}
