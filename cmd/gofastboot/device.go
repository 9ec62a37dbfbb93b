package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-fastboot/protocol"
)

func newGetVarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getvar NAME",
		Short: "Display a bootloader variable, or all of them with \"all\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				if args[0] != protocol.VarAll {
					value, err := s.client.GetVar(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: %s\n", args[0], value)
					return nil
				}

				vars, err := s.client.GetVarAll(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(vars))
				for name := range vars {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "%s: %s\n", name, vars[name])
				}
				return nil
			})
		},
	}
}

func newEraseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "erase PARTITION",
		Short: "Erase a partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, opts, func(ctx context.Context, s *session) error {
				s.progress.Step("Erasing " + args[0])
				return s.flasher.Erase(ctx, args[0])
			})
		},
	}
}

func newFormatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "format PARTITION",
		Short: "Format a partition with the device's default filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, opts, func(ctx context.Context, s *session) error {
				s.progress.Step("Formatting " + args[0])
				return s.flasher.Format(ctx, args[0])
			})
		},
	}
}

func newRebootCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "reboot [bootloader|recovery|fastboot]",
		Short:     "Reboot the device, optionally into another mode",
		Aliases:   []string{"reboot-bootloader"},
		ValidArgs: []string{protocol.RebootBootloader, protocol.RebootRecovery, protocol.RebootFastboot},
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := protocol.RebootSystem
			if len(args) == 1 {
				target = args[0]
			}
			if cmd.CalledAs() == "reboot-bootloader" {
				target = protocol.RebootBootloader
			}
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				if target == protocol.RebootSystem {
					s.progress.Step("Rebooting")
				} else {
					s.progress.Step("Rebooting into " + target)
				}
				_, err := s.client.Reboot(ctx, target)
				return err
			})
		},
	}
}

func newSetActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set_active SLOT",
		Short: "Mark a slot active: a, b or other",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				s.progress.Step("Setting current slot to " + args[0])
				return s.flasher.SetActive(ctx, args[0])
			})
		},
	}
}

func newOemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "oem COMMAND...",
		Short: "Send a vendor specific command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				_, err := s.client.Oem(ctx, strings.Join(args, " "))
				return err
			})
		},
	}
}

func newFlashingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flashing lock|unlock|lock_critical|unlock_critical|get_unlock_ability",
		Short: "Change or query the bootloader lock state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				if args[0] == "get_unlock_ability" {
					ok, err := s.client.GetUnlockAbility(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "get_unlock_ability: %t\n", ok)
					return nil
				}
				_, err := s.client.Flashing(ctx, args[0])
				return err
			})
		},
	}
}

func newSnapshotUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "snapshot-update [cancel|merge]",
		Short:     "Cancel or merge a pending virtual A/B update",
		ValidArgs: []string{protocol.SnapshotCancel, protocol.SnapshotMerge},
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := protocol.SnapshotCancel
			if len(args) == 1 {
				action = args[0]
			}
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				return s.flasher.SnapshotUpdate(ctx, action)
			})
		},
	}
}

func newFetchCmd() *cobra.Command {
	var offset, size string

	cmd := &cobra.Command{
		Use:   "fetch PARTITION OUT_FILE",
		Short: "Read a partition from the device into a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := parseSize(offset)
			if err != nil {
				return fmt.Errorf("--offset: %w", err)
			}
			n, err := parseSize(size)
			if err != nil {
				return fmt.Errorf("--size: %w", err)
			}

			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				out, err := os.Create(args[1])
				if err != nil {
					return err
				}
				s.progress.Step("Fetching " + args[0])
				if err := s.flasher.Fetch(ctx, args[0], off, n, out); err != nil {
					_ = out.Close()
					return err
				}
				return out.Close()
			})
		},
	}
	cmd.Flags().StringVar(&offset, "offset", "0", "first byte to read")
	cmd.Flags().StringVar(&size, "size", "0", "bytes to read (0 reads to the end)")
	return cmd
}

func newGetStagedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get_staged OUT_FILE",
		Short: "Write data staged by the last command to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				out, err := os.Create(args[0])
				if err != nil {
					return err
				}
				if _, err := s.client.GetStaged(ctx, out); err != nil {
					_ = out.Close()
					return err
				}
				return out.Close()
			})
		},
	}
}

func newStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage IN_FILE",
		Short: "Send a file to the device for the next command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				_, err := s.client.Stage(ctx, data)
				return err
			})
		},
	}
}

func newContinueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continue",
		Short: "Continue with the normal boot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				s.progress.Step("Resuming boot")
				_, err := s.client.Continue(ctx)
				return err
			})
		},
	}
}

func newCreateLogicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "create-logical-partition NAME SIZE",
		Short:   "Create a logical partition of SIZE bytes",
		Aliases: []string{"create-logical"},
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(args[1])
			if err != nil {
				return err
			}
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				s.progress.Step(fmt.Sprintf("Creating %s (%s)", args[0], humanize.IBytes(uint64(size))))
				_, err := s.client.CreateLogicalPartition(ctx, args[0], size)
				return err
			})
		},
	}
}

func newDeleteLogicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete-logical-partition NAME",
		Short:   "Delete a logical partition",
		Aliases: []string{"delete-logical"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				s.progress.Step("Deleting " + args[0])
				_, err := s.client.DeleteLogicalPartition(ctx, args[0])
				return err
			})
		},
	}
}

func newResizeLogicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resize-logical-partition NAME SIZE",
		Short:   "Change the size of a logical partition",
		Aliases: []string{"resize-logical"},
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(args[1])
			if err != nil {
				return err
			}
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				s.progress.Step(fmt.Sprintf("Resizing %s to %s", args[0], humanize.IBytes(uint64(size))))
				_, err := s.client.ResizeLogicalPartition(ctx, args[0], size)
				return err
			})
		},
	}
}

func newGsiCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "gsi wipe|disable|status",
		Short:     "Wipe, disable or query an installed GSI",
		ValidArgs: []string{"wipe", "disable", "status"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnDevice(cmd, nil, func(ctx context.Context, s *session) error {
				_, err := s.client.GsiCommand(ctx, args[0])
				return err
			})
		},
	}
}

// parseSize accepts plain, hexadecimal and unit suffixed sizes such as
// 4096, 0x1000 or 512MiB.
func parseSize(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("%w: negative size %q", protocol.ErrInvalidArgument, s)
		}
		return v, nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q", protocol.ErrInvalidArgument, s)
	}
	return int64(v), nil
}
