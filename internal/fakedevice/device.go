// Package fakedevice simulates a fastboot device in memory. It validates
// commands, keeps partition contents and slot state, and answers with real
// status frames, so the client and the flash orchestrator can be exercised
// without hardware.
package fakedevice

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/moffa90/go-fastboot/protocol"
	"github.com/moffa90/go-fastboot/sparse"
)

// Partition is one simulated partition.
type Partition struct {
	Data    []byte
	Logical bool
}

// WriteAt implements io.WriterAt within the partition's current size.
func (p *Partition) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(b)) > int64(len(p.Data)) {
		return 0, fmt.Errorf("write of %d bytes at %d exceeds partition size %d", len(b), off, len(p.Data))
	}
	return copy(p.Data[off:], b), nil
}

// Device simulates a device in bootloader or fastbootd mode.
type Device struct {
	mu sync.Mutex

	// Vars answers getvar for names not derived from device state
	Vars map[string]string

	// Partitions holds every partition by full name, slot suffix included
	Partitions map[string]*Partition

	// Slotted holds base names that have _a and _b copies
	Slotted map[string]bool

	// Slot is the current slot, empty on devices without A/B
	Slot string

	// Userspace is true while the device runs fastbootd
	Userspace bool

	// MaxDownload is the largest accepted download
	MaxDownload int64

	// SuperName is reported as super-partition-name when set
	SuperName string

	// OnReboot is called after a reboot command is answered
	OnReboot func(target string)

	commands   []string
	signatures [][]byte
	staged     []byte
	superMeta  []byte

	buf    []byte
	expect int64
	out    [][]byte
}

// New returns a device in bootloader mode with a 256 MiB download limit.
func New() *Device {
	return &Device{
		Vars:        map[string]string{"product": "fake", "version-bootloader": "fake-1.0", "serialno": "FAKE0001"},
		Partitions:  make(map[string]*Partition),
		Slotted:     make(map[string]bool),
		MaxDownload: protocol.DefaultMaxDownloadSize,
	}
}

// AddPartition creates a physical or logical partition of size bytes.
func (d *Device) AddPartition(name string, size int64, logical bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Partitions[name] = &Partition{Data: make([]byte, size), Logical: logical}
}

// AddSlottedPartition creates name_a and name_b and marks name as slotted.
// The current slot becomes "a" if none is set.
func (d *Device) AddSlottedPartition(name string, size int64, logical bool) {
	d.AddPartition(name+"_a", size, logical)
	d.AddPartition(name+"_b", size, logical)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.Slotted[name] = true
	if d.Slot == "" {
		d.Slot = "a"
	}
}

// Content returns a copy of a partition's bytes, or nil if it does not exist.
func (d *Device) Content(name string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.Partitions[name]
	if !ok {
		return nil
	}
	return append([]byte(nil), p.Data...)
}

// Commands returns every command received, data payloads excluded.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Signatures returns the payloads received with the signature command.
func (d *Device) Signatures() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.signatures...)
}

// SuperMetadata returns the payload of the last update-super command.
func (d *Device) SuperMetadata() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.superMeta
}

// Stage queues data to be returned by get_staged.
func (d *Device) Stage(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staged = append([]byte(nil), data...)
}

// Read returns the next queued status or data frame.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.out) == 0 {
		return 0, io.EOF
	}
	frame := d.out[0]
	n := copy(p, frame)
	if n < len(frame) {
		d.out[0] = frame[n:]
	} else {
		d.out = d.out[1:]
	}
	return n, nil
}

// Write accepts one command, or payload bytes during a download.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()

	if d.expect > 0 {
		if int64(len(p)) > d.expect {
			d.mu.Unlock()
			return 0, fmt.Errorf("payload overrun: %d bytes with %d expected", len(p), d.expect)
		}
		d.buf = append(d.buf, p...)
		d.expect -= int64(len(p))
		if d.expect == 0 {
			d.okay("")
		}
		d.mu.Unlock()
		return len(p), nil
	}

	cmd := string(p)
	d.commands = append(d.commands, cmd)
	target, rebooted := d.handle(cmd)
	hook := d.OnReboot
	d.mu.Unlock()

	if rebooted && hook != nil {
		hook(target)
	}
	return len(p), nil
}

func (d *Device) handle(cmd string) (rebootTarget string, rebooted bool) {
	verb, arg, _ := strings.Cut(cmd, ":")

	switch {
	case verb == protocol.CmdGetVar:
		d.handleGetVar(arg)
	case verb == protocol.CmdDownload:
		d.handleDownload(arg)
	case verb == protocol.CmdFlash:
		d.handleFlash(arg)
	case verb == protocol.CmdErase, verb == protocol.CmdFormat:
		d.handleErase(arg)
	case verb == protocol.CmdSetActive:
		d.handleSetActive(arg)
	case verb == protocol.CmdResizeLogicalPartition:
		d.handleResize(arg)
	case verb == protocol.CmdCreateLogicalPartition:
		d.handleCreate(arg)
	case verb == protocol.CmdDeleteLogicalPartition:
		d.handleDelete(arg)
	case verb == protocol.CmdUpdateSuper:
		d.superMeta = append([]byte(nil), d.buf...)
		d.okay("")
	case verb == protocol.CmdFetch:
		d.handleFetch(arg)
	case verb == protocol.CmdGetStaged:
		d.sendData(d.staged)
	case verb == protocol.CmdSignature:
		d.signatures = append(d.signatures, append([]byte(nil), d.buf...))
		d.okay("")
	case verb == protocol.CmdReboot || strings.HasPrefix(verb, protocol.CmdReboot+"-"):
		target := strings.TrimPrefix(strings.TrimPrefix(verb, protocol.CmdReboot), "-")
		d.Userspace = target == protocol.RebootFastboot
		d.okay("")
		return target, true
	case strings.HasPrefix(cmd, protocol.CmdOem+" "):
		d.info("oem: " + strings.TrimPrefix(cmd, protocol.CmdOem+" "))
		d.okay("")
	case strings.HasPrefix(cmd, protocol.CmdFlashing+" "):
		if strings.HasSuffix(cmd, "get_unlock_ability") {
			d.okay("1")
		} else {
			d.okay("")
		}
	case verb == protocol.CmdSnapshotUpdate, verb == protocol.CmdBoot, verb == protocol.CmdContinue,
		verb == protocol.CmdStage, verb == protocol.CmdWipeSuper, verb == protocol.CmdGsi:
		d.okay("")
	default:
		d.fail("unknown command")
	}
	return "", false
}

func (d *Device) handleGetVar(name string) {
	if name == protocol.VarAll {
		for _, line := range d.allVars() {
			d.info(line)
		}
		d.okay("")
		return
	}

	if v, ok := d.variable(name); ok {
		d.okay(v)
		return
	}
	d.fail("GetVar Variable Not found")
}

func (d *Device) variable(name string) (string, bool) {
	kind, arg, hasArg := strings.Cut(name, ":")
	if hasArg {
		switch kind {
		case protocol.VarHasSlot:
			if d.Slotted[arg] {
				return "yes", true
			}
			return "no", true
		case protocol.VarPartitionSize:
			if p, ok := d.Partitions[arg]; ok {
				return fmt.Sprintf("0x%x", len(p.Data)), true
			}
			return "", false
		case protocol.VarIsLogical:
			if p, ok := d.Partitions[arg]; ok {
				return yesNo(p.Logical), true
			}
			return "", false
		case protocol.VarPartitionType:
			if _, ok := d.Partitions[arg]; ok {
				return "raw", true
			}
			return "", false
		}
	}

	switch name {
	case protocol.VarCurrentSlot:
		return d.Slot, d.Slot != ""
	case protocol.VarSlotCount:
		if d.Slot == "" {
			return "", false
		}
		return "2", true
	case protocol.VarIsUserspace:
		return yesNo(d.Userspace), true
	case protocol.VarMaxDownloadSize:
		return fmt.Sprintf("0x%x", d.MaxDownload), true
	case protocol.VarSuperPartitionName:
		return d.SuperName, d.SuperName != ""
	}

	v, ok := d.Vars[name]
	return v, ok
}

func (d *Device) allVars() []string {
	var lines []string
	for k, v := range d.Vars {
		lines = append(lines, k+": "+v)
	}
	for name, p := range d.Partitions {
		lines = append(lines, fmt.Sprintf("%s:%s: 0x%x", protocol.VarPartitionSize, name, len(p.Data)))
	}
	for _, name := range []string{protocol.VarCurrentSlot, protocol.VarIsUserspace, protocol.VarMaxDownloadSize} {
		if v, ok := d.variable(name); ok {
			lines = append(lines, name+": "+v)
		}
	}
	sort.Strings(lines)
	return lines
}

func (d *Device) handleDownload(arg string) {
	size, err := strconv.ParseUint(arg, 16, 32)
	if err != nil || len(arg) != protocol.DataSizeDigits {
		d.fail("invalid download size")
		return
	}
	if int64(size) > d.MaxDownload {
		d.fail("data too large")
		return
	}

	d.buf = d.buf[:0]
	d.expect = int64(size)
	d.out = append(d.out, []byte(fmt.Sprintf("%s%08x", protocol.PrefixData, size)))
	if size == 0 {
		d.okay("")
	}
}

func (d *Device) handleFlash(name string) {
	p, ok := d.Partitions[name]
	if !ok {
		d.fail("partition does not exist")
		return
	}
	if p.Logical && !d.Userspace {
		d.fail("cannot flash logical partition from bootloader")
		return
	}

	if sparse.ClassifyBytes(d.buf) == sparse.KindSparse {
		img, err := sparse.FromReaderAt(bytes.NewReader(d.buf), int64(len(d.buf)))
		if err != nil {
			d.fail("invalid sparse image: " + err.Error())
			return
		}
		if int64(img.Header.TotalBlocks)*int64(img.Header.BlockSize) > int64(len(p.Data)) {
			d.fail("image too large for partition")
			return
		}
		if _, err := img.WriteRawAt(p); err != nil {
			d.fail("write failed: " + err.Error())
			return
		}
		d.okay("")
		return
	}

	if len(d.buf) > len(p.Data) {
		d.fail("image too large for partition")
		return
	}
	copy(p.Data, d.buf)
	d.okay("")
}

func (d *Device) handleErase(name string) {
	p, ok := d.Partitions[name]
	if !ok {
		d.fail("partition does not exist")
		return
	}
	for i := range p.Data {
		p.Data[i] = 0
	}
	d.okay("")
}

func (d *Device) handleSetActive(slot string) {
	if d.Slot == "" || (slot != "a" && slot != "b") {
		d.fail("invalid slot")
		return
	}
	d.Slot = slot
	d.okay("")
}

func (d *Device) handleResize(arg string) {
	name, size, ok := d.logicalArgs(arg)
	if !ok {
		return
	}
	p, exists := d.Partitions[name]
	if !exists || !p.Logical {
		d.fail("not a logical partition")
		return
	}
	if size <= int64(len(p.Data)) {
		p.Data = p.Data[:size]
	} else {
		p.Data = append(p.Data, make([]byte, size-int64(len(p.Data)))...)
	}
	d.okay("")
}

func (d *Device) handleCreate(arg string) {
	name, size, ok := d.logicalArgs(arg)
	if !ok {
		return
	}
	if _, exists := d.Partitions[name]; exists {
		d.fail("partition already exists")
		return
	}
	d.Partitions[name] = &Partition{Data: make([]byte, size), Logical: true}
	d.okay("")
}

func (d *Device) handleDelete(name string) {
	if !d.Userspace {
		d.fail("command requires fastbootd")
		return
	}
	p, ok := d.Partitions[name]
	if !ok || !p.Logical {
		d.fail("not a logical partition")
		return
	}
	delete(d.Partitions, name)
	d.okay("")
}

func (d *Device) logicalArgs(arg string) (string, int64, bool) {
	if !d.Userspace {
		d.fail("command requires fastbootd")
		return "", 0, false
	}
	name, sizeStr, found := strings.Cut(arg, ":")
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if !found || err != nil || size < 0 {
		d.fail("invalid arguments")
		return "", 0, false
	}
	return name, size, true
}

func (d *Device) handleFetch(arg string) {
	parts := strings.Split(arg, ":")
	p, ok := d.Partitions[parts[0]]
	if !ok {
		d.fail("partition does not exist")
		return
	}

	data := p.Data
	if len(parts) > 1 {
		off, err := strconv.ParseInt(parts[1], 16, 64)
		if err != nil || off > int64(len(data)) {
			d.fail("invalid offset")
			return
		}
		data = data[off:]
	}
	if len(parts) > 2 {
		size, err := strconv.ParseInt(parts[2], 16, 64)
		if err != nil || size > int64(len(data)) {
			d.fail("invalid size")
			return
		}
		data = data[:size]
	}
	d.sendData(data)
}

// sendData queues a DATA frame, the payload in chunks, and OKAY.
func (d *Device) sendData(data []byte) {
	d.out = append(d.out, []byte(fmt.Sprintf("%s%08x", protocol.PrefixData, len(data))))
	for len(data) > 0 {
		n := min(len(data), 64*1024)
		d.out = append(d.out, append([]byte(nil), data[:n]...))
		data = data[n:]
	}
	d.okay("")
}

func (d *Device) okay(msg string) {
	d.out = append(d.out, []byte(protocol.PrefixOkay+msg))
}

func (d *Device) fail(msg string) {
	d.out = append(d.out, []byte(protocol.PrefixFail+msg))
}

func (d *Device) info(msg string) {
	d.out = append(d.out, []byte(protocol.PrefixInfo+msg))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
