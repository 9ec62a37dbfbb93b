package fastboot

import (
	"time"

	"github.com/moffa90/go-fastboot/protocol"
)

// Config holds the client configuration.
type Config struct {
	// ProgressCallback is called during data transfers to report progress (optional)
	ProgressCallback ProgressCallback

	// MessageCallback receives INFO and TEXT lines (optional)
	MessageCallback MessageCallback

	// StepCallback receives human-readable step names (optional)
	StepCallback StepCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// ReadTimeout is the idle time allowed between two status frames
	ReadTimeout time.Duration

	// TransferChunkSize is the maximum size of one bulk write or read
	TransferChunkSize int

	// Retries is the number of consecutive transient read failures tolerated
	Retries int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ReadTimeout:       protocol.DefaultReadTimeout,
		TransferChunkSize: protocol.DefaultTransferChunkSize,
		Retries:           protocol.DefaultRetries,
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithProgressCallback sets a callback function to track transfer progress.
//
// Example:
//
//	client := fastboot.New(device,
//	    fastboot.WithProgressCallback(func(p fastboot.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithMessageCallback sets a callback receiving INFO and TEXT lines.
//
// Example:
//
//	client := fastboot.New(device,
//	    fastboot.WithMessageCallback(func(m protocol.Message) {
//	        fmt.Println("(bootloader)", m.Content)
//	    }),
//	)
func WithMessageCallback(callback MessageCallback) Option {
	return func(c *Config) {
		c.MessageCallback = callback
	}
}

// WithStepCallback sets a callback receiving step descriptions.
func WithStepCallback(callback StepCallback) Option {
	return func(c *Config) {
		c.StepCallback = callback
	}
}

// WithLogger sets a logger for the client operations.
//
// Example:
//
//	client := fastboot.New(device, fastboot.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithReadTimeout sets the idle timeout between status frames.
// Every INFO or TEXT frame restarts the timer.
//
// Example:
//
//	client := fastboot.New(device, fastboot.WithReadTimeout(2*time.Minute))
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadTimeout = timeout
		}
	}
}

// WithTransferChunkSize sets the size of each bulk write during downloads
// and of each read during uploads. Default is 1 MiB.
//
// Example:
//
//	client := fastboot.New(device, fastboot.WithTransferChunkSize(512*1024))
func WithTransferChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.TransferChunkSize = size
		}
	}
}

// WithRetries sets the number of consecutive transient read failures
// (interrupted calls, empty reads) tolerated before a command fails.
//
// Example:
//
//	client := fastboot.New(device, fastboot.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}
