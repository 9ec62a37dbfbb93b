package fastboot

import (
	"context"
	"strconv"
	"strings"

	"github.com/moffa90/go-fastboot/protocol"
)

// GetVar reads a bootloader variable. Successful answers are cached for the
// session, so asking twice sends a single command.
//
// Example:
//
//	product, err := client.GetVar(ctx, protocol.VarProduct)
func (c *Client) GetVar(ctx context.Context, name string) (string, error) {
	if v, ok := c.vars[name]; ok {
		return v, nil
	}

	cmd, err := protocol.BuildGetVarCmd(name)
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, cmd)
	if err != nil {
		return "", &VariableError{Name: name, Err: err}
	}

	c.vars[name] = resp.Message
	return resp.Message, nil
}

// GetVarAll runs "getvar:all", replaces the variable cache with its result
// and returns a copy of every variable reported.
func (c *Client) GetVarAll(ctx context.Context) (map[string]string, error) {
	c.vars = make(map[string]string)

	cmd, err := protocol.BuildGetVarCmd(protocol.VarAll)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, cmd)
	if err != nil {
		return nil, &VariableError{Name: protocol.VarAll, Err: err}
	}

	out := make(map[string]string, len(resp.Info))
	for _, line := range resp.Info {
		name, value, ok := protocol.ParseVariableLine(line)
		if !ok {
			c.logDebug("ignoring variable line", "line", line)
			continue
		}
		c.vars[name] = value
		out[name] = value
	}
	return out, nil
}

// InvalidateCache drops every cached variable and slot answer.
func (c *Client) InvalidateCache() {
	c.vars = make(map[string]string)
	c.slots = make(map[string]bool)
}

// HasSlot reports whether partition is slotted. The answer is cached per
// partition; read failures count as "no slot" and are not cached.
func (c *Client) HasSlot(ctx context.Context, partition string) bool {
	if v, ok := c.slots[partition]; ok {
		return v
	}

	v, err := c.GetVar(ctx, protocol.VarHasSlot+":"+partition)
	if err != nil {
		c.logDebug("has-slot query failed", "partition", partition, "error", err)
		return false
	}

	has := protocol.ParseBool(v)
	c.slots[partition] = has
	return has
}

// CurrentSlot returns the active slot suffix without underscore, such as "a".
func (c *Client) CurrentSlot(ctx context.Context) (string, error) {
	v, err := c.GetVar(ctx, protocol.VarCurrentSlot)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimSpace(v), "_"), nil
}

// SlotCount returns the number of slots. Devices that do not report the
// variable have no A/B slots and yield 0.
func (c *Client) SlotCount(ctx context.Context) int {
	v, err := c.GetVar(ctx, protocol.VarSlotCount)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// MaxDownloadSize returns the largest single download the device accepts.
// The value may be reported in 0x-prefixed hex or in decimal.
func (c *Client) MaxDownloadSize(ctx context.Context) (int64, error) {
	return c.sizeVar(ctx, protocol.VarMaxDownloadSize)
}

// IsUserspace reports whether the device runs fastbootd.
func (c *Client) IsUserspace(ctx context.Context) bool {
	v, err := c.GetVar(ctx, protocol.VarIsUserspace)
	return err == nil && protocol.ParseBool(v)
}

// IsLogical reports whether partition lives inside the super partition.
func (c *Client) IsLogical(ctx context.Context, partition string) (bool, error) {
	v, err := c.GetVar(ctx, protocol.VarIsLogical+":"+partition)
	if err != nil {
		return false, err
	}
	return protocol.ParseBool(v), nil
}

// PartitionSize returns the size of partition in bytes.
func (c *Client) PartitionSize(ctx context.Context, partition string) (int64, error) {
	return c.sizeVar(ctx, protocol.VarPartitionSize+":"+partition)
}

// PartitionType returns the filesystem type the bootloader reports for
// partition, such as "ext4" or "raw".
func (c *Client) PartitionType(ctx context.Context, partition string) (string, error) {
	v, err := c.GetVar(ctx, protocol.VarPartitionType+":"+partition)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// SupportsSparseCRC reports whether the device verifies CRC32 chunks in
// sparse images.
func (c *Client) SupportsSparseCRC(ctx context.Context) bool {
	for _, name := range []string{protocol.VarSparseCRC, protocol.VarCRC} {
		if v, err := c.GetVar(ctx, name); err == nil && protocol.ParseBool(v) {
			return true
		}
	}
	return false
}

// SuperPartitionName returns the name of the super partition, "super" when
// the device does not say.
func (c *Client) SuperPartitionName(ctx context.Context) string {
	v, err := c.GetVar(ctx, protocol.VarSuperPartitionName)
	if err != nil || strings.TrimSpace(v) == "" {
		return "super"
	}
	return strings.TrimSpace(v)
}

func (c *Client) sizeVar(ctx context.Context, name string) (int64, error) {
	v, err := c.GetVar(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := protocol.ParseSize(v)
	if err != nil {
		return 0, &VariableError{Name: name, Value: v, Err: err}
	}
	return n, nil
}
