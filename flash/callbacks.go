package flash

import "time"

// Progress phases.
const (
	PhaseConnecting  = "connecting"
	PhaseBootloader  = "bootloader"
	PhaseBackup      = "backup"
	PhaseCreating    = "creating"
	PhaseFormatting  = "formatting"
	PhaseDownloading = "downloading"
	PhaseVerifying   = "verifying"
	PhaseComplete    = "complete"
)

// Progress contains information about a running session.
// Passed to ProgressCallback as operations advance.
type Progress struct {
	// Phase is one of the Phase constants
	Phase string

	// Partition is the partition being worked on, if any
	Partition string

	// BytesSent is the number of payload bytes sent so far in this phase
	BytesSent uint64

	// TotalBytes is the number of payload bytes this phase will send.
	// During create it covers every partition with a file.
	TotalBytes uint64

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// Tick counts the polls of a formatting operation; it drives spinners
	Tick int

	// ElapsedTime is the time elapsed since the phase started
	ElapsedTime time.Duration
}

// ProgressCallback is called as a session advances. During formatting it is
// called from the polling loop roughly once per poll interval.
// Implementations should return quickly.
//
// Example:
//
//	s := flash.New(t,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("[%s] %s %.1f%%\n", p.Phase, p.Partition, p.Percentage)
//	    }),
//	)
type ProgressCallback func(Progress)

// OpObserver is called after every operation of a command list with the
// operation name, how long it took and its error.
type OpObserver func(op string, elapsed time.Duration, err error)

// Logger is an optional logging interface that can be provided to the session.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	s := flash.New(t, flash.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
