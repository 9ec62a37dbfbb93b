package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildCommand validates and encodes a raw command string. Commands are sent
// as plain ASCII without terminator and must not exceed MaxCommandSize bytes.
//
// Every other builder in this file goes through BuildCommand.
func BuildCommand(cmd string) ([]byte, error) {
	if cmd == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidArgument)
	}
	if len(cmd) > MaxCommandSize {
		return nil, fmt.Errorf("%w: %d bytes, maximum is %d", ErrCommandTooLong, len(cmd), MaxCommandSize)
	}
	return []byte(cmd), nil
}

// BuildGetVarCmd constructs a "getvar:<name>" command.
func BuildGetVarCmd(name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: variable name cannot be empty", ErrInvalidArgument)
	}
	return BuildCommand(CmdGetVar + ":" + name)
}

// BuildDownloadCmd constructs a "download:<size>" command. The size is sent
// as 8 lowercase hex digits.
//
// Command structure:
//
//	download:%08x
func BuildDownloadCmd(size int64) ([]byte, error) {
	if size < 0 || size > MaxDataSize {
		return nil, fmt.Errorf("%w: download size %d out of range [0, %d]", ErrInvalidArgument, size, int64(MaxDataSize))
	}
	return BuildCommand(fmt.Sprintf("%s:%08x", CmdDownload, size))
}

// BuildUploadCmd constructs an "upload:<file>" command.
func BuildUploadCmd(file string) ([]byte, error) {
	return BuildCommand(CmdUpload + ":" + file)
}

// BuildFlashCmd constructs a "flash:<partition>" command.
func BuildFlashCmd(partition string) ([]byte, error) {
	return buildPartitionCmd(CmdFlash, partition)
}

// BuildEraseCmd constructs an "erase:<partition>" command.
func BuildEraseCmd(partition string) ([]byte, error) {
	return buildPartitionCmd(CmdErase, partition)
}

// BuildFormatCmd constructs a "format:<partition>" command.
func BuildFormatCmd(partition string) ([]byte, error) {
	return buildPartitionCmd(CmdFormat, partition)
}

// BuildBootCmd constructs the "boot" command, which boots the last download.
func BuildBootCmd() ([]byte, error) {
	return BuildCommand(CmdBoot)
}

// BuildContinueCmd constructs the "continue" command.
func BuildContinueCmd() ([]byte, error) {
	return BuildCommand(CmdContinue)
}

// BuildRebootCmd constructs a reboot command. The system target, or an empty
// one, sends plain "reboot"; every other target sends "reboot-<target>".
func BuildRebootCmd(target string) ([]byte, error) {
	if target == "" || target == RebootSystem {
		return BuildCommand(CmdReboot)
	}
	return BuildCommand(CmdReboot + "-" + target)
}

// BuildSetActiveCmd constructs a "set_active:<slot>" command.
func BuildSetActiveCmd(slot string) ([]byte, error) {
	if slot == "" {
		return nil, fmt.Errorf("%w: slot cannot be empty", ErrInvalidArgument)
	}
	return BuildCommand(CmdSetActive + ":" + slot)
}

// BuildOemCmd constructs an "oem <command>" command.
func BuildOemCmd(command string) ([]byte, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: oem command cannot be empty", ErrInvalidArgument)
	}
	return BuildCommand(CmdOem + " " + command)
}

// BuildFlashingCmd constructs a "flashing <sub>" command, for example
// "flashing unlock" or "flashing get_unlock_ability".
func BuildFlashingCmd(sub string) ([]byte, error) {
	if strings.TrimSpace(sub) == "" {
		return nil, fmt.Errorf("%w: flashing subcommand cannot be empty", ErrInvalidArgument)
	}
	return BuildCommand(CmdFlashing + " " + sub)
}

// BuildSnapshotUpdateCmd constructs a "snapshot-update:<action>" command.
// Only "cancel" and "merge" are accepted.
func BuildSnapshotUpdateCmd(action string) ([]byte, error) {
	if action != SnapshotCancel && action != SnapshotMerge {
		return nil, fmt.Errorf("%w: snapshot-update action must be %q or %q, got %q",
			ErrInvalidArgument, SnapshotCancel, SnapshotMerge, action)
	}
	return BuildCommand(CmdSnapshotUpdate + ":" + action)
}

// BuildCreateLogicalPartitionCmd constructs a
// "create-logical-partition:<name>:<size>" command with a decimal size.
func BuildCreateLogicalPartitionCmd(name string, size int64) ([]byte, error) {
	return buildLogicalCmd(CmdCreateLogicalPartition, name, size)
}

// BuildResizeLogicalPartitionCmd constructs a
// "resize-logical-partition:<name>:<size>" command with a decimal size.
func BuildResizeLogicalPartitionCmd(name string, size int64) ([]byte, error) {
	return buildLogicalCmd(CmdResizeLogicalPartition, name, size)
}

// BuildDeleteLogicalPartitionCmd constructs a
// "delete-logical-partition:<name>" command.
func BuildDeleteLogicalPartitionCmd(name string) ([]byte, error) {
	return buildPartitionCmd(CmdDeleteLogicalPartition, name)
}

// BuildFetchCmd constructs a fetch command reading back a partition.
//
// Command structure:
//
//	fetch:<partition>[:<offset %08x>[:<size %08x>]]
//
// The offset is included when either offset or size is positive, the size
// only when it is positive.
func BuildFetchCmd(partition string, offset, size int64) ([]byte, error) {
	if partition == "" {
		return nil, fmt.Errorf("%w: partition cannot be empty", ErrInvalidArgument)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative fetch offset %d", ErrInvalidArgument, offset)
	}

	cmd := CmdFetch + ":" + partition
	if offset > 0 || size > 0 {
		cmd += fmt.Sprintf(":%08x", offset)
		if size > 0 {
			cmd += fmt.Sprintf(":%08x", size)
		}
	}
	return BuildCommand(cmd)
}

// BuildGetStagedCmd constructs the "get_staged" command.
func BuildGetStagedCmd() ([]byte, error) {
	return BuildCommand(CmdGetStaged)
}

// BuildStageCmd constructs the "stage" command that follows a download.
func BuildStageCmd() ([]byte, error) {
	return BuildCommand(CmdStage)
}

// BuildSignatureCmd constructs the "signature" command that follows a
// download of a signature blob.
func BuildSignatureCmd() ([]byte, error) {
	return BuildCommand(CmdSignature)
}

// BuildUpdateSuperCmd constructs an "update-super:<super>[:wipe]" command.
func BuildUpdateSuperCmd(superName string, wipe bool) ([]byte, error) {
	if superName == "" {
		return nil, fmt.Errorf("%w: super partition name cannot be empty", ErrInvalidArgument)
	}
	cmd := CmdUpdateSuper + ":" + superName
	if wipe {
		cmd += ":wipe"
	}
	return BuildCommand(cmd)
}

// BuildWipeSuperCmd constructs a "wipe-super:<super>" command.
func BuildWipeSuperCmd(superName string) ([]byte, error) {
	return buildPartitionCmd(CmdWipeSuper, superName)
}

// BuildGsiCmd constructs a "gsi:<sub>" command, for example "gsi:wipe".
func BuildGsiCmd(sub string) ([]byte, error) {
	if sub == "" {
		return nil, fmt.Errorf("%w: gsi subcommand cannot be empty", ErrInvalidArgument)
	}
	return BuildCommand(CmdGsi + ":" + sub)
}

func buildPartitionCmd(verb, partition string) ([]byte, error) {
	if partition == "" {
		return nil, fmt.Errorf("%w: %s requires a partition name", ErrInvalidArgument, verb)
	}
	return BuildCommand(verb + ":" + partition)
}

func buildLogicalCmd(verb, name string, size int64) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %s requires a partition name", ErrInvalidArgument, verb)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative partition size %d", ErrInvalidArgument, size)
	}
	return BuildCommand(verb + ":" + name + ":" + strconv.FormatInt(size, 10))
}
