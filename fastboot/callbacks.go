package fastboot

import (
	"time"

	"github.com/moffa90/go-fastboot/protocol"
)

// Progress contains information about a running data transfer.
// Passed to ProgressCallback during downloads and uploads.
type Progress struct {
	// Phase describes the current transfer:
	//   "download" - Sending data to the device
	//   "upload"   - Receiving data from the device
	Phase string

	// BytesDone is the number of payload bytes transferred so far
	BytesDone int64

	// TotalBytes is the announced payload size
	TotalBytes int64

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the data phase started
	ElapsedTime time.Duration
}

// Transfer phases reported in Progress.Phase.
const (
	PhaseDownload = "download"
	PhaseUpload   = "upload"
)

// ProgressCallback is called after every bulk transfer to report progress.
// Implementations should return quickly to avoid stalling the transfer.
//
// Example:
//
//	client := fastboot.New(device,
//	    fastboot.WithProgressCallback(func(p fastboot.Progress) {
//	        fmt.Printf("[%s] %.1f%% (%d/%d)\n",
//	            p.Phase, p.Percentage, p.BytesDone, p.TotalBytes)
//	    }),
//	)
type ProgressCallback func(Progress)

// MessageCallback receives INFO and TEXT lines as the device sends them.
type MessageCallback func(protocol.Message)

// StepCallback receives a short human-readable description of each step,
// such as "Sending 'system_a' (2/5)".
type StepCallback func(string)

// Logger is an optional logging interface that can be provided to the client.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	client := fastboot.New(device, fastboot.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
