package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-fastboot/bootimg"
	"github.com/moffa90/go-fastboot/flash"
	"github.com/moffa90/go-fastboot/internal/config"
	"github.com/moffa90/go-fastboot/internal/imagesrc"
	"github.com/moffa90/go-fastboot/protocol"
	"github.com/moffa90/go-fastboot/superimg"
)

var errNoProductOut = errors.New("no image given and no product directory set: use --product-out or ANDROID_PRODUCT_OUT")

// productImage returns the default image of a partition in the product
// directory.
func productImage(name string) (string, error) {
	dir := config.Instance.ProductOut
	if dir == "" {
		return "", errNoProductOut
	}
	return filepath.Join(dir, name), nil
}

func newFlashCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flash PARTITION [FILENAME]",
		Short: "Write an image to a partition",
		Long: `Write an image to a partition. Without FILENAME the image is
PARTITION.img in the product directory. Images compressed with xz, bzip2,
gzip or zstd are expanded first.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			partition := args[0]
			path := ""
			if len(args) == 2 {
				path = args[1]
			} else {
				p, err := productImage(partition + ".img")
				if err != nil {
					return err
				}
				path = p
			}

			src, err := imagesrc.Open(path, "")
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			return runOnDevice(cmd, opts, func(ctx context.Context, s *session) error {
				return s.flasher.FlashImage(ctx, partition, src.Path)
			})
		},
	}
}

// bootParams collects the flags describing a boot image built on the fly.
type bootParams struct {
	cmdline       string
	headerVersion uint32
	base          uint32
	pageSize      uint32
	osVersion     uint32
}

func (b *bootParams) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.cmdline, "cmdline", "", "kernel command line")
	cmd.Flags().Uint32Var(&b.headerVersion, "header-version", 0, "boot image header version (0 to 4)")
	cmd.Flags().Uint32Var(&b.base, "base", 0, "load base address (default 0x10000000)")
	cmd.Flags().Uint32Var(&b.pageSize, "page-size", 0, "page size (default 2048)")
	cmd.Flags().Uint32Var(&b.osVersion, "os-version", 0, "packed os version and patch level")
}

// params reads kernel, ramdisk and second stage files into boot image
// parameters.
func (b *bootParams) params(files []string) (bootimg.Params, error) {
	p := bootimg.Params{
		Version:   b.headerVersion,
		Cmdline:   b.cmdline,
		Base:      b.base,
		PageSize:  b.pageSize,
		OsVersion: b.osVersion,
	}
	sections := []*[]byte{&p.Kernel, &p.Ramdisk, &p.Second}
	for i, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return p, err
		}
		*sections[i] = data
	}
	return p, nil
}

func newFlashRawCmd(opts *globalOptions) *cobra.Command {
	var bp bootParams

	cmd := &cobra.Command{
		Use:   "flash:raw PARTITION KERNEL [RAMDISK [SECOND]]",
		Short: "Build a boot image from a kernel and flash it",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := bp.params(args[1:])
			if err != nil {
				return err
			}
			return runOnDevice(cmd, opts, func(ctx context.Context, s *session) error {
				return s.flasher.FlashRaw(ctx, args[0], p)
			})
		},
	}
	bp.register(cmd)
	return cmd
}

func newBootCmd() *cobra.Command {
	var bp bootParams

	cmd := &cobra.Command{
		Use:   "boot KERNEL [RAMDISK [SECOND]]",
		Short: "Boot a kernel or boot image without flashing it",
		Long: `Boot without flashing. A single argument holding a complete boot
image is sent as is; otherwise a boot image is built from the kernel,
ramdisk and second stage.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := bp.params(args)
			if err != nil {
				return err
			}
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				if len(args) == 1 && bytes.HasPrefix(p.Kernel, []byte(bootimg.Magic)) {
					s.progress.Step("Booting")
					_, err := s.client.Boot(ctx, p.Kernel)
					return err
				}
				return s.flasher.Boot(ctx, p)
			})
		},
	}
	bp.register(cmd)
	return cmd
}

func newFlashAllCmd(opts *globalOptions) *cobra.Command {
	var wipe, skipReboot bool

	cmd := &cobra.Command{
		Use:   "flashall",
		Short: "Flash every image in the product directory",
		Long: `Flash the product directory: android-info.txt is checked against the
device, then fastboot-info.txt is followed when present, otherwise every
image is flashed. The device reboots afterwards unless --skip-reboot is
given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := config.Instance.ProductOut
			if dir == "" {
				return errNoProductOut
			}
			return runOnDevice(cmd, opts, func(ctx context.Context, s *session) error {
				s.client.DumpInfo(ctx)
				if err := s.flasher.FlashAll(ctx, dir, wipe); err != nil {
					return err
				}
				if skipReboot {
					return nil
				}
				s.progress.Step("Rebooting")
				_, err := s.client.Reboot(ctx, protocol.RebootSystem)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&wipe, "wipe", "w", false, "wipe userdata and cache afterwards")
	cmd.Flags().BoolVar(&skipReboot, "skip-reboot", false, "do not reboot when done")
	return cmd
}

func newUpdateSuperCmd() *cobra.Command {
	var wipe bool

	cmd := &cobra.Command{
		Use:   "update-super [SUPER_EMPTY]",
		Short: "Update the super partition metadata from super_empty.img",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := superEmptyPath(args)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				name := s.client.SuperPartitionName(ctx)
				s.progress.Step("Updating " + name)
				_, err := s.client.UpdateSuper(ctx, name, data, wipe)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&wipe, "wipe", false, "discard the existing partition table")
	return cmd
}

func newWipeSuperCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "wipe-super [SUPER_EMPTY]",
		Short: "Write an empty super image built from super_empty.img",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := superEmptyPath(args)
			if err != nil {
				return err
			}
			builder, err := superimg.FromTemplate(path)
			if err != nil {
				return err
			}
			defer func() { _ = builder.Close() }()

			img, err := builder.Build()
			if err != nil {
				return err
			}
			return runOnDevice(cmd, opts, func(ctx context.Context, s *session) error {
				return s.flasher.FlashSparseFile(ctx, s.client.SuperPartitionName(ctx), img)
			})
		},
	}
}

func superEmptyPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if p := config.Instance.SuperTemplate; p != "" {
		return p, nil
	}
	p, err := productImage(flash.SuperEmptyImage)
	if err != nil {
		return "", fmt.Errorf("no super_empty.img: %w", err)
	}
	return p, nil
}
