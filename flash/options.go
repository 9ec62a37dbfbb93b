package flash

import (
	"context"
	"io"

	"github.com/moffa90/go-fastboot/fastboot"
	"github.com/moffa90/go-fastboot/protocol"
)

// DefaultBlockSize is the block size used when wrapping raw images as
// sparse images.
const DefaultBlockSize = 4096

// DefaultParallelism bounds concurrent image preparation.
const DefaultParallelism = 4

// ReconnectFunc opens a new transport to the same device after it rebooted.
// It should wait until the device is back.
type ReconnectFunc func(ctx context.Context) (io.ReadWriter, error)

// Config holds the flasher configuration.
type Config struct {
	// Logger receives orchestration logs (optional)
	Logger fastboot.Logger

	// Slot is the default slot: "" for the current slot, "a", "b",
	// "other" or "all"
	Slot string

	// SuperTemplate is the path of a super_empty.img describing the
	// device's logical partitions (optional)
	SuperTemplate string

	// RawResparseThreshold is the raw image size above which an image is
	// wrapped and resparsed instead of downloaded whole; zero means the
	// device's max-download-size
	RawResparseThreshold int64

	// SparseLimit is used when the device does not report max-download-size
	SparseLimit int64

	// Reconnect is called after a reboot that drops the transport (optional)
	Reconnect ReconnectFunc

	// VbmetaFlags are ORed into vbmeta images before flashing
	VbmetaFlags uint32

	// SkipSignatures disables sending <partition>.sig files
	SkipSignatures bool

	// Parallelism bounds concurrent image preparation
	Parallelism int
}

func defaultConfig() Config {
	return Config{
		SparseLimit: protocol.DefaultMaxDownloadSize,
		Parallelism: DefaultParallelism,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithLogger sets a logger for orchestration steps.
func WithLogger(logger fastboot.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSlot sets the slot images are flashed to.
//
// Example:
//
//	f := flash.New(client, flash.WithSlot("other"))
func WithSlot(slot string) Option {
	return func(c *Config) {
		c.Slot = slot
	}
}

// WithSuperTemplate names a super_empty.img whose partition list is used to
// recognise logical partitions and to lay out super images.
func WithSuperTemplate(path string) Option {
	return func(c *Config) {
		c.SuperTemplate = path
	}
}

// WithRawResparseThreshold sets the raw image size above which images are
// resparsed. Zero restores the default of the device's max-download-size.
func WithRawResparseThreshold(size int64) Option {
	return func(c *Config) {
		if size >= 0 {
			c.RawResparseThreshold = size
		}
	}
}

// WithSparseLimit sets the transfer ceiling used when the device does not
// report max-download-size.
func WithSparseLimit(size int64) Option {
	return func(c *Config) {
		if size > 0 {
			c.SparseLimit = size
		}
	}
}

// WithReconnect sets the function used to reopen the transport after the
// device reboots, for example into fastbootd.
//
// Example:
//
//	f := flash.New(client, flash.WithReconnect(func(ctx context.Context) (io.ReadWriter, error) {
//	    return transport.DialTCP(ctx, addr)
//	}))
func WithReconnect(fn ReconnectFunc) Option {
	return func(c *Config) {
		c.Reconnect = fn
	}
}

// WithVbmetaFlags sets AVB flags applied to vbmeta images, such as
// bootimg.FlagHashtreeDisabled.
func WithVbmetaFlags(flags uint32) Option {
	return func(c *Config) {
		c.VbmetaFlags = flags
	}
}

// WithSkipSignatures stops FlashAll from sending .sig files.
func WithSkipSignatures(skip bool) Option {
	return func(c *Config) {
		c.SkipSignatures = skip
	}
}

// WithParallelism bounds concurrent image preparation.
func WithParallelism(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Parallelism = n
		}
	}
}
