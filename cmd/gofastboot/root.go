package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-fastboot/internal/config"
	"github.com/moffa90/go-fastboot/internal/logger"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	cfgFile             string
	disableVerity       bool
	disableVerification bool
	skipSignatures      bool
}

// Execute runs the root command
func Execute() error {
	root := newRootCmd()
	defer func() { _ = logger.Sync() }()

	if err := root.Execute(); err != nil {
		logger.LogError("Command execution failed", err, nil)
		fmt.Fprintln(os.Stderr, "FAILED:", err)
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "gofastboot",
		Short: "Talk to Android devices in fastboot mode",
		Long: `gofastboot drives devices in fastboot mode, either the bootloader or
fastbootd, over TCP or UDP.

The device is selected with -s tcp:HOST[:PORT] or udp:HOST[:PORT], or with
the FASTBOOT_DEVICE or ANDROID_SERIAL environment variables. flashall reads
images from ANDROID_PRODUCT_OUT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initialize(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is ./gofastboot.yaml or ~/.config/gofastboot/gofastboot.yaml)")
	flags.StringP("device", "s", "", "device to talk to: tcp:HOST[:PORT] or udp:HOST[:PORT]")
	flags.String("slot", "", "slot to operate on: a, b, other or all (default current)")
	flags.String("super-template", "", "super_empty.img describing logical partitions")
	flags.String("product-out", "", "directory holding the images for flash and flashall")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-format", "human", "log format: json or human")
	flags.String("log-file", "", "also write logs to this file")
	flags.Duration("read-timeout", 0, "idle timeout for device responses")
	flags.Int64("raw-resparse-threshold", 0, "resparse raw images larger than this many bytes (0 = max-download-size)")
	flags.BoolVar(&opts.disableVerity, "disable-verity", false, "disable dm-verity when flashing vbmeta")
	flags.BoolVar(&opts.disableVerification, "disable-verification", false, "disable AVB verification when flashing vbmeta")
	flags.BoolVar(&opts.skipSignatures, "skip-signatures", false, "do not send .sig files during flashall")

	root.AddCommand(
		newGetVarCmd(),
		newFlashCmd(opts),
		newFlashRawCmd(opts),
		newFlashAllCmd(opts),
		newEraseCmd(opts),
		newFormatCmd(opts),
		newRebootCmd(),
		newSetActiveCmd(),
		newOemCmd(),
		newFlashingCmd(),
		newSnapshotUpdateCmd(),
		newFetchCmd(),
		newGetStagedCmd(),
		newStageCmd(),
		newBootCmd(),
		newContinueCmd(),
		newCreateLogicalCmd(),
		newDeleteLogicalCmd(),
		newResizeLogicalCmd(),
		newUpdateSuperCmd(),
		newWipeSuperCmd(opts),
		newGsiCmd(),
		newVersionCmd(),
	)
	return root
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"device":                 "device",
	"slot":                   "slot",
	"super-template":         "super_template",
	"product-out":            "product_out",
	"debug":                  "debug",
	"log-format":             "log_format",
	"log-file":               "log_file",
	"read-timeout":           "transfer.read_timeout",
	"raw-resparse-threshold": "transfer.raw_resparse_threshold",
}

// initialize loads the configuration, lets explicitly set flags override
// it and starts the logger.
func initialize(cmd *cobra.Command, opts *globalOptions) error {
	if err := config.Initialize(opts.cfgFile); err != nil {
		return err
	}

	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := config.BindFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	if err := config.Refresh(); err != nil {
		return err
	}

	cfg := config.Instance
	return logger.InitLogger(logger.LoggerConfig{
		Debug:     cfg.Debug,
		LogFormat: cfg.LogFormat,
		LogFile:   cfg.LogFile,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gofastboot version %s\n", Version)
		},
	}
}
