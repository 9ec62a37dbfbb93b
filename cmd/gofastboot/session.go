package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-fastboot/bootimg"
	"github.com/moffa90/go-fastboot/fastboot"
	"github.com/moffa90/go-fastboot/flash"
	"github.com/moffa90/go-fastboot/internal/config"
	"github.com/moffa90/go-fastboot/internal/logger"
	"github.com/moffa90/go-fastboot/transport"
)

const (
	reconnectTimeout  = 2 * time.Minute
	reconnectInterval = time.Second
)

var errNoDevice = errors.New("no device given: use -s, FASTBOOT_DEVICE or ANDROID_SERIAL")

// dial opens the transport to a device. Tests replace it.
var dial = func(ctx context.Context, target string) (io.ReadWriteCloser, error) {
	return transport.Dial(ctx, target)
}

// session is one connection to a device plus the client and flasher
// driving it.
type session struct {
	target   string
	conn     io.ReadWriteCloser
	client   *fastboot.Client
	flasher  *flash.Flasher
	progress *progressPrinter
}

func openSession(ctx context.Context, out io.Writer, opts *globalOptions) (*session, error) {
	cfg := config.Instance
	if cfg.Device == "" {
		return nil, errNoDevice
	}

	conn, err := dial(ctx, cfg.Device)
	if err != nil {
		return nil, err
	}
	logger.Logger.Debugw("Connected", "device", cfg.Device)

	s := &session{target: cfg.Device, conn: conn, progress: newProgressPrinter(out)}
	adapter := logger.NewAdapter(logger.WithField("device", cfg.Device))

	clientOpts := []fastboot.Option{
		fastboot.WithLogger(adapter),
		fastboot.WithStepCallback(s.progress.Step),
		fastboot.WithProgressCallback(s.progress.Progress),
		fastboot.WithMessageCallback(s.progress.Message),
	}
	if cfg.Transfer.ReadTimeout > 0 {
		clientOpts = append(clientOpts, fastboot.WithReadTimeout(cfg.Transfer.ReadTimeout))
	}
	if cfg.Transfer.ChunkSize > 0 {
		clientOpts = append(clientOpts, fastboot.WithTransferChunkSize(cfg.Transfer.ChunkSize))
	}
	if cfg.Transfer.Retries > 0 {
		clientOpts = append(clientOpts, fastboot.WithRetries(cfg.Transfer.Retries))
	}
	s.client = fastboot.New(conn, clientOpts...)

	flashOpts := []flash.Option{
		flash.WithLogger(adapter),
		flash.WithSlot(cfg.Slot),
		flash.WithReconnect(s.reconnect),
	}
	if cfg.SuperTemplate != "" {
		flashOpts = append(flashOpts, flash.WithSuperTemplate(cfg.SuperTemplate))
	}
	if cfg.Transfer.SparseLimit > 0 {
		flashOpts = append(flashOpts, flash.WithSparseLimit(cfg.Transfer.SparseLimit))
	}
	if cfg.Transfer.RawResparseThreshold > 0 {
		flashOpts = append(flashOpts, flash.WithRawResparseThreshold(cfg.Transfer.RawResparseThreshold))
	}
	if opts != nil {
		var flags uint32
		if opts.disableVerity {
			flags |= bootimg.FlagHashtreeDisabled
		}
		if opts.disableVerification {
			flags |= bootimg.FlagVerificationDisabled
		}
		if flags != 0 {
			flashOpts = append(flashOpts, flash.WithVbmetaFlags(flags))
		}
		flashOpts = append(flashOpts, flash.WithSkipSignatures(opts.skipSignatures))
	}
	s.flasher = flash.New(s.client, flashOpts...)

	return s, nil
}

// reconnect waits for the device to come back after a reboot and dials it
// again.
func (s *session) reconnect(ctx context.Context) (io.ReadWriter, error) {
	_ = s.conn.Close()

	ctx, cancel := context.WithTimeout(ctx, reconnectTimeout)
	defer cancel()

	s.progress.Step("Waiting for " + s.target)
	for {
		conn, err := dial(ctx, s.target)
		if err == nil {
			s.conn = conn
			return conn, nil
		}
		logger.Logger.Debugw("Device not back yet", "device", s.target, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("device %s did not come back: %w", s.target, err)
		case <-time.After(reconnectInterval):
		}
	}
}

func (s *session) Close() error {
	return s.conn.Close()
}

// runOnDevice connects to the configured device, runs fn and reports the
// outcome the way fastboot does.
func runOnDevice(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	s, err := openSession(ctx, cmd.ErrOrStderr(), opts)
	if err != nil {
		return err
	}
	defer s.Close()

	err = fn(ctx, s)
	s.progress.Done(err)
	if err != nil {
		return err
	}
	s.progress.Finished(time.Since(start))
	return nil
}
