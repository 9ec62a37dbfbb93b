package fastboot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moffa90/go-fastboot/protocol"
)

// DeviceInfo holds the identification variables printed before flashing.
type DeviceInfo struct {
	Bootloader string
	Baseband   string
	SerialNo   string
}

// Flash writes the current download buffer to partition. The name is sent
// as given; slot resolution is the caller's job.
func (c *Client) Flash(ctx context.Context, partition string) (*protocol.Response, error) {
	cmd, err := protocol.BuildFlashCmd(partition)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// Erase erases partition.
func (c *Client) Erase(ctx context.Context, partition string) (*protocol.Response, error) {
	cmd, err := protocol.BuildEraseCmd(partition)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// Format asks the device to create an empty filesystem on partition.
func (c *Client) Format(ctx context.Context, partition string) (*protocol.Response, error) {
	cmd, err := protocol.BuildFormatCmd(partition)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// Reboot restarts the device into target ("system", "bootloader",
// "recovery", "fastboot" or a vendor target). Caches are dropped because the
// device comes back as a new session.
func (c *Client) Reboot(ctx context.Context, target string) (*protocol.Response, error) {
	cmd, err := protocol.BuildRebootCmd(target)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, cmd)
	c.InvalidateCache()
	return resp, err
}

// SetActive marks slot as the active slot.
func (c *Client) SetActive(ctx context.Context, slot string) (*protocol.Response, error) {
	cmd, err := protocol.BuildSetActiveCmd(strings.TrimPrefix(slot, "_"))
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, cmd)
	if err == nil {
		delete(c.vars, protocol.VarCurrentSlot)
	}
	return resp, err
}

// Oem sends a vendor command, for example "device-info".
func (c *Client) Oem(ctx context.Context, command string) (*protocol.Response, error) {
	cmd, err := protocol.BuildOemCmd(command)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// Flashing sends a "flashing <sub>" command.
func (c *Client) Flashing(ctx context.Context, sub string) (*protocol.Response, error) {
	cmd, err := protocol.BuildFlashingCmd(sub)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// Unlock sends "flashing unlock".
func (c *Client) Unlock(ctx context.Context) (*protocol.Response, error) {
	return c.Flashing(ctx, "unlock")
}

// Lock sends "flashing lock".
func (c *Client) Lock(ctx context.Context) (*protocol.Response, error) {
	return c.Flashing(ctx, "lock")
}

// UnlockCritical sends "flashing unlock_critical".
func (c *Client) UnlockCritical(ctx context.Context) (*protocol.Response, error) {
	return c.Flashing(ctx, "unlock_critical")
}

// LockCritical sends "flashing lock_critical".
func (c *Client) LockCritical(ctx context.Context) (*protocol.Response, error) {
	return c.Flashing(ctx, "lock_critical")
}

// GetUnlockAbility reports whether the device allows "flashing unlock".
// Devices answer "1" either in the OKAY payload or as the last INFO line.
func (c *Client) GetUnlockAbility(ctx context.Context) (bool, error) {
	resp, err := c.Flashing(ctx, "get_unlock_ability")
	if err != nil {
		return false, err
	}

	answer := strings.TrimSpace(resp.Message)
	if answer == "" && len(resp.Info) > 0 {
		answer = resp.Info[len(resp.Info)-1]
		if _, v, ok := protocol.ParseVariableLine(answer); ok {
			answer = v
		}
	}
	return strings.TrimSpace(answer) == "1", nil
}

// SnapshotUpdate cancels or merges a pending virtual A/B update.
// Only protocol.SnapshotCancel and protocol.SnapshotMerge are accepted.
func (c *Client) SnapshotUpdate(ctx context.Context, action string) (*protocol.Response, error) {
	cmd, err := protocol.BuildSnapshotUpdateCmd(action)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// CreateLogicalPartition creates a logical partition of size bytes.
// Requires fastbootd.
func (c *Client) CreateLogicalPartition(ctx context.Context, name string, size int64) (*protocol.Response, error) {
	cmd, err := protocol.BuildCreateLogicalPartitionCmd(name, size)
	if err != nil {
		return nil, err
	}
	return c.invalidating(ctx, cmd, name)
}

// DeleteLogicalPartition removes a logical partition. Requires fastbootd.
func (c *Client) DeleteLogicalPartition(ctx context.Context, name string) (*protocol.Response, error) {
	cmd, err := protocol.BuildDeleteLogicalPartitionCmd(name)
	if err != nil {
		return nil, err
	}
	return c.invalidating(ctx, cmd, name)
}

// ResizeLogicalPartition resizes a logical partition to size bytes.
// Requires fastbootd.
func (c *Client) ResizeLogicalPartition(ctx context.Context, name string, size int64) (*protocol.Response, error) {
	cmd, err := protocol.BuildResizeLogicalPartitionCmd(name, size)
	if err != nil {
		return nil, err
	}
	return c.invalidating(ctx, cmd, name)
}

// invalidating sends a command that changes the partition table and drops
// the cached size of the affected partition.
func (c *Client) invalidating(ctx context.Context, cmd []byte, name string) (*protocol.Response, error) {
	resp, err := c.send(ctx, cmd)
	delete(c.vars, protocol.VarPartitionSize+":"+name)
	delete(c.vars, protocol.VarIsLogical+":"+name)
	return resp, err
}

// Fetch reads partition back from the device into w. A positive offset or
// size restricts the range.
func (c *Client) Fetch(ctx context.Context, partition string, offset, size int64, w io.Writer) (*protocol.Response, error) {
	cmd, err := protocol.BuildFetchCmd(partition, offset, size)
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, string(cmd), w)
}

// FetchToFile reads partition back into a new file at path. The file is
// removed when the fetch fails.
func (c *Client) FetchToFile(ctx context.Context, partition, path string, offset, size int64) (*protocol.Response, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	resp, err := c.Fetch(ctx, partition, offset, size, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return resp, err
}

// GetStaged copies data staged by the device, such as a bugreport, to w.
func (c *Client) GetStaged(ctx context.Context, w io.Writer) (*protocol.Response, error) {
	cmd, err := protocol.BuildGetStagedCmd()
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, string(cmd), w)
}

// UploadFile runs the legacy "upload:<file>" command into w.
func (c *Client) UploadFile(ctx context.Context, file string, w io.Writer) (*protocol.Response, error) {
	cmd, err := protocol.BuildUploadCmd(file)
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, string(cmd), w)
}

// Stage downloads data and hands it to the device with "stage".
func (c *Client) Stage(ctx context.Context, data []byte) (*protocol.Response, error) {
	return c.downloadThen(ctx, data, protocol.BuildStageCmd)
}

// Boot downloads a boot image and boots it without flashing.
func (c *Client) Boot(ctx context.Context, image []byte) (*protocol.Response, error) {
	return c.downloadThen(ctx, image, protocol.BuildBootCmd)
}

// Signature downloads a signature blob and sends "signature" so the
// bootloader verifies the next flash against it.
func (c *Client) Signature(ctx context.Context, sig []byte) (*protocol.Response, error) {
	return c.downloadThen(ctx, sig, protocol.BuildSignatureCmd)
}

// Continue resumes the normal boot.
func (c *Client) Continue(ctx context.Context) (*protocol.Response, error) {
	cmd, err := protocol.BuildContinueCmd()
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// UpdateSuper downloads a super_empty image and applies it to superName.
// With wipe the existing logical partitions are discarded.
func (c *Client) UpdateSuper(ctx context.Context, superName string, metadata []byte, wipe bool) (*protocol.Response, error) {
	cmd, err := protocol.BuildUpdateSuperCmd(superName, wipe)
	if err != nil {
		return nil, err
	}
	if _, err := c.Download(ctx, metadata); err != nil {
		return nil, fmt.Errorf("download super metadata: %w", err)
	}
	resp, err := c.send(ctx, cmd)
	c.InvalidateCache()
	return resp, err
}

// WipeSuper clears the super partition metadata. Requires the bootloader.
func (c *Client) WipeSuper(ctx context.Context, superName string) (*protocol.Response, error) {
	cmd, err := protocol.BuildWipeSuperCmd(superName)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, cmd)
	c.InvalidateCache()
	return resp, err
}

// GsiCommand sends "gsi:<sub>", for example "gsi:wipe" or "gsi:disable".
func (c *Client) GsiCommand(ctx context.Context, sub string) (*protocol.Response, error) {
	cmd, err := protocol.BuildGsiCmd(sub)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cmd)
}

// DumpInfo reads the bootloader version, baseband version and serial number
// and reports them as steps. Missing variables are left empty.
func (c *Client) DumpInfo(ctx context.Context) DeviceInfo {
	var info DeviceInfo
	info.Bootloader, _ = c.GetVar(ctx, protocol.VarVersionBootloader)
	info.Baseband, _ = c.GetVar(ctx, protocol.VarVersionBaseband)
	info.SerialNo, _ = c.GetVar(ctx, protocol.VarSerialNo)

	c.Step("Bootloader Version...: " + info.Bootloader)
	c.Step("Baseband Version.....: " + info.Baseband)
	c.Step("Serial Number........: " + info.SerialNo)
	return info
}

func (c *Client) downloadThen(ctx context.Context, data []byte, build func() ([]byte, error)) (*protocol.Response, error) {
	cmd, err := build()
	if err != nil {
		return nil, err
	}
	if resp, err := c.DownloadStream(ctx, bytes.NewReader(data), int64(len(data))); err != nil {
		return resp, err
	}
	return c.send(ctx, cmd)
}
