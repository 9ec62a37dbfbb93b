package flash

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/moffa90/go-fastboot/bootimg"
	"github.com/moffa90/go-fastboot/fastboot"
	"github.com/moffa90/go-fastboot/lp"
	"github.com/moffa90/go-fastboot/protocol"
	"github.com/moffa90/go-fastboot/sparse"
)

// Slot selectors accepted wherever a slot is named.
const (
	SlotCurrent = ""
	SlotOther   = "other"
	SlotAll     = "all"
)

// Flasher turns partition names and image files into fastboot command
// sequences: slot resolution, sparse handling, logical partitions and
// whole product directories.
//
// Like the Client it drives, a Flasher is not safe for concurrent use.
type Flasher struct {
	client *fastboot.Client
	config Config

	templateOnce  sync.Once
	templateNames map[string]bool
	templateErr   error
}

// New creates a Flasher driving client.
//
// Example:
//
//	client := fastboot.New(device)
//	f := flash.New(client,
//	    flash.WithSuperTemplate("out/super_empty.img"),
//	    flash.WithReconnect(reconnect),
//	)
//	err := f.FlashImage(ctx, "boot", "out/boot.img")
func New(client *fastboot.Client, opts ...Option) *Flasher {
	if client == nil {
		panic("client cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flasher{client: client, config: cfg}
}

// Client returns the underlying protocol client.
func (f *Flasher) Client() *fastboot.Client {
	return f.client
}

// ResolvePartition returns the on-device name of partition for slot.
// Partitions without slots are returned unchanged when slot is SlotCurrent.
// SlotAll is not accepted here; use ResolveAll.
func (f *Flasher) ResolvePartition(ctx context.Context, partition, slot string) (string, error) {
	if partition == "" {
		return "", fmt.Errorf("%w: empty partition name", protocol.ErrInvalidArgument)
	}
	if slot == SlotAll {
		return "", fmt.Errorf("%w: slot %q needs ResolveAll", protocol.ErrInvalidArgument, slot)
	}

	if !f.client.HasSlot(ctx, partition) {
		if slot != SlotCurrent {
			return "", fmt.Errorf("partition %s has no slots: %w", partition, ErrNoSlot)
		}
		return partition, nil
	}

	s, err := f.resolveSlot(ctx, slot)
	if err != nil {
		return "", err
	}
	return partition + "_" + s, nil
}

// ResolveAll returns the on-device names of partition for slot, expanding
// SlotAll to every slot of a slotted partition.
func (f *Flasher) ResolveAll(ctx context.Context, partition, slot string) ([]string, error) {
	if slot != SlotAll {
		name, err := f.ResolvePartition(ctx, partition, slot)
		if err != nil {
			return nil, err
		}
		return []string{name}, nil
	}

	if !f.client.HasSlot(ctx, partition) {
		return []string{partition}, nil
	}

	count := f.client.SlotCount(ctx)
	if count < 1 {
		return nil, fmt.Errorf("partition %s: %w", partition, ErrNoSlot)
	}
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		names = append(names, partition+"_"+string(rune('a'+i)))
	}
	return names, nil
}

// resolveSlot turns a slot selector into a slot letter.
func (f *Flasher) resolveSlot(ctx context.Context, slot string) (string, error) {
	slot = strings.TrimPrefix(slot, "_")
	if slot != SlotCurrent && slot != SlotOther {
		return slot, nil
	}

	current, err := f.client.CurrentSlot(ctx)
	if err != nil || current == "" {
		return "", fmt.Errorf("current slot unknown: %w", ErrNoSlot)
	}
	if slot == SlotCurrent {
		return current, nil
	}

	count := f.client.SlotCount(ctx)
	if count < 2 {
		count = 2
	}
	idx := int(current[0] - 'a')
	if len(current) != 1 || idx < 0 || idx >= count {
		return "", fmt.Errorf("current slot %q: %w", current, ErrNoSlot)
	}
	return string(rune('a' + (idx+1)%count)), nil
}

// IsLogical reports whether the resolved partition lives inside super. A
// configured super template is consulted first; otherwise the device is
// asked.
func (f *Flasher) IsLogical(ctx context.Context, target string) bool {
	if names := f.templatePartitions(); names != nil {
		return names[target]
	}
	logical, err := f.client.IsLogical(ctx, target)
	return err == nil && logical
}

// templatePartitions loads the partition names of the super template once.
func (f *Flasher) templatePartitions() map[string]bool {
	if f.config.SuperTemplate == "" {
		return nil
	}

	f.templateOnce.Do(func() {
		m, err := lp.ReadFromImageFile(f.config.SuperTemplate)
		if err != nil {
			f.templateErr = err
			f.logError("super template unreadable, asking the device instead", "path", f.config.SuperTemplate, "error", err)
			return
		}
		f.templateNames = make(map[string]bool)
		for _, name := range m.PartitionNames() {
			f.templateNames[name] = true
		}
	})
	return f.templateNames
}

// sparseLimit returns the device transfer ceiling.
func (f *Flasher) sparseLimit(ctx context.Context) int64 {
	limit, err := f.client.MaxDownloadSize(ctx)
	if err != nil || limit <= 0 {
		f.logDebug("max-download-size unavailable, using fallback", "limit", f.config.SparseLimit)
		return f.config.SparseLimit
	}
	return limit
}

func (f *Flasher) threshold(limit int64) int64 {
	if f.config.RawResparseThreshold > 0 {
		return f.config.RawResparseThreshold
	}
	return limit
}

// FlashImage flashes the image file at path to partition on the configured
// slot. Sparse images and raw images above the resparse threshold are sent
// in parts no larger than the device's max-download-size.
func (f *Flasher) FlashImage(ctx context.Context, partition, path string) error {
	targets, err := f.ResolveAll(ctx, partition, f.config.Slot)
	if err != nil {
		return err
	}

	for _, target := range targets {
		if err := f.flashPath(ctx, target, path); err != nil {
			return &PartitionError{Partition: target, Op: "flash", Err: err}
		}
	}
	return nil
}

// flashPath flashes one file to an already resolved partition.
func (f *Flasher) flashPath(ctx context.Context, target, path string) error {
	logical := f.IsLogical(ctx, target)
	if logical {
		if err := f.ensureUserspace(ctx); err != nil {
			return err
		}
	}

	limit := f.sparseLimit(ctx)
	plan, err := PlanImage(path, f.threshold(limit))
	if err != nil {
		return err
	}
	plan.Partition = target

	if logical {
		if err := f.resizeLogical(ctx, target, plan.PartitionSize); err != nil {
			return err
		}
	}
	return f.flashPlan(ctx, plan, limit)
}

// flashPlan sends a classified image to plan.Partition.
func (f *Flasher) flashPlan(ctx context.Context, plan ImagePlan, limit int64) error {
	f.logDebug("flashing image", "partition", plan.Partition, "path", plan.Path, "kind", plan.Kind.String(), "size", plan.FileSize)

	switch plan.Kind {
	case KindSparse:
		sf, err := sparse.FromImageFile(plan.Path)
		if err != nil {
			return err
		}
		defer func() { _ = sf.Close() }()
		return f.flashSparse(ctx, plan.Partition, sf, limit)

	case KindOversizedRaw:
		sf, err := sparse.FromRawFile(plan.Path, DefaultBlockSize, rawChunkBytes(limit))
		if err != nil {
			return err
		}
		defer func() { _ = sf.Close() }()
		return f.flashSparse(ctx, plan.Partition, sf, limit)

	default:
		fh, err := os.Open(plan.Path)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer func() { _ = fh.Close() }()
		return f.flashRaw(ctx, plan.Partition, fh, plan.FileSize)
	}
}

// rawChunkBytes keeps wrapped RAW chunks small enough to fit one segment.
func rawChunkBytes(limit int64) int64 {
	if n := limit - 2*DefaultBlockSize; n >= DefaultBlockSize {
		return n
	}
	return DefaultBlockSize
}

// flashRaw downloads size bytes from r and flashes them to target.
func (f *Flasher) flashRaw(ctx context.Context, target string, r io.Reader, size int64) error {
	if f.config.VbmetaFlags != 0 && isVbmeta(target) {
		data, err := io.ReadAll(io.LimitReader(r, size))
		if err != nil {
			return fmt.Errorf("read vbmeta: %w", err)
		}
		if err := bootimg.SetVbmetaFlags(data, f.config.VbmetaFlags); err != nil {
			return err
		}
		r = bytes.NewReader(data)
		size = int64(len(data))
	}

	f.client.Step(fmt.Sprintf("Sending %s", target))
	if _, err := f.client.DownloadStream(ctx, r, size); err != nil {
		return err
	}

	f.client.Step(fmt.Sprintf("Flashing %s", target))
	_, err := f.client.Flash(ctx, target)
	return err
}

func isVbmeta(target string) bool {
	return strings.HasPrefix(target, "vbmeta")
}

// FlashSparseFile resparses img to the device's max-download-size and
// flashes every part to partition on the configured slot.
func (f *Flasher) FlashSparseFile(ctx context.Context, partition string, img *sparse.File) error {
	target, err := f.ResolvePartition(ctx, partition, f.config.Slot)
	if err != nil {
		return err
	}

	if f.IsLogical(ctx, target) {
		if err := f.ensureUserspace(ctx); err != nil {
			return err
		}
		size := int64(img.Header.TotalBlocks) * int64(img.Header.BlockSize)
		if err := f.resizeLogical(ctx, target, size); err != nil {
			return err
		}
	}

	if err := f.flashSparse(ctx, target, img, f.sparseLimit(ctx)); err != nil {
		return &PartitionError{Partition: target, Op: "flash", Err: err}
	}
	return nil
}

// flashSparse sends img to target in parts of at most limit bytes. Each part
// addresses the whole partition, so the parts are flashed one after the
// other to the same target.
func (f *Flasher) flashSparse(ctx context.Context, target string, img *sparse.File, limit int64) error {
	parts, err := img.Resparse(limit)
	if err != nil {
		return err
	}
	useCRC := f.client.SupportsSparseCRC(ctx)

	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		r, size, err := part.ExportStream(0, len(part.Chunks), useCRC)
		if err != nil {
			return err
		}

		f.client.Step(fmt.Sprintf("Sending %s(%d / %d)", target, i+1, len(parts)))
		if _, err := f.client.DownloadStream(ctx, r, size); err != nil {
			return err
		}

		f.client.Step(fmt.Sprintf("Flashing %s(%d / %d)", target, i+1, len(parts)))
		if _, err := f.client.Flash(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// FlashReader flashes size bytes read from r to partition on the configured
// slot. Sparse streams and streams above the resparse threshold are spooled
// to a temporary file first.
func (f *Flasher) FlashReader(ctx context.Context, partition string, r io.Reader, size int64) error {
	target, err := f.ResolvePartition(ctx, partition, f.config.Slot)
	if err != nil {
		return err
	}

	br := bufio.NewReaderSize(r, sparse.HeaderSize)
	head, _ := br.Peek(sparse.HeaderSize)
	limit := f.sparseLimit(ctx)
	logical := f.IsLogical(ctx, target)

	if sparse.ClassifyBytes(head) == sparse.KindRaw && size <= f.threshold(limit) && !logical {
		if err := f.flashRaw(ctx, target, br, size); err != nil {
			return &PartitionError{Partition: target, Op: "flash", Err: err}
		}
		return nil
	}

	tmp, err := os.CreateTemp("", "fastboot-*.img")
	if err != nil {
		return fmt.Errorf("spool image: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.CopyN(tmp, br, size); err != nil {
		return fmt.Errorf("spool image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("spool image: %w", err)
	}

	if err := f.flashPath(ctx, target, tmp.Name()); err != nil {
		return &PartitionError{Partition: target, Op: "flash", Err: err}
	}
	return nil
}

// ensureUserspace reboots into fastbootd when the device runs the
// bootloader. Logical partitions can only be changed from userspace.
func (f *Flasher) ensureUserspace(ctx context.Context) error {
	if f.client.IsUserspace(ctx) {
		return nil
	}
	f.client.Step("Rebooting into fastboot")
	return f.reboot(ctx, protocol.RebootFastboot)
}

// reboot sends a reboot command and reconnects to the device.
func (f *Flasher) reboot(ctx context.Context, target string) error {
	if f.config.Reconnect == nil {
		return ErrNoReconnect
	}
	if _, err := f.client.Reboot(ctx, target); err != nil {
		return err
	}

	device, err := f.config.Reconnect(ctx)
	if err != nil {
		return fmt.Errorf("reconnect after reboot: %w", err)
	}
	f.client.Reconnect(device)
	return nil
}

// resizeLogical empties the partition and grows it to size bytes, so the
// new extents come from free space rather than the old allocation.
func (f *Flasher) resizeLogical(ctx context.Context, target string, size int64) error {
	f.client.Step(fmt.Sprintf("Resizing %s", target))
	if _, err := f.client.ResizeLogicalPartition(ctx, target, 0); err != nil {
		return err
	}
	_, err := f.client.ResizeLogicalPartition(ctx, target, size)
	return err
}

// Erase erases partition on the configured slot.
func (f *Flasher) Erase(ctx context.Context, partition string) error {
	return f.forEach(ctx, partition, "erase", func(target string) error {
		_, err := f.client.Erase(ctx, target)
		return err
	})
}

// Format formats partition on the configured slot with the device's
// default filesystem.
func (f *Flasher) Format(ctx context.Context, partition string) error {
	return f.forEach(ctx, partition, "format", func(target string) error {
		_, err := f.client.Format(ctx, target)
		return err
	})
}

func (f *Flasher) forEach(ctx context.Context, partition, op string, fn func(string) error) error {
	targets, err := f.ResolveAll(ctx, partition, f.config.Slot)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if err := fn(target); err != nil {
			return &PartitionError{Partition: target, Op: op, Err: err}
		}
	}
	return nil
}

// SetActive marks slot active. SlotOther selects the slot that is not
// current.
func (f *Flasher) SetActive(ctx context.Context, slot string) error {
	if slot == SlotCurrent || slot == SlotAll {
		return fmt.Errorf("%w: set_active needs a slot, got %q", protocol.ErrInvalidArgument, slot)
	}
	s, err := f.resolveSlot(ctx, slot)
	if err != nil {
		return err
	}
	_, err = f.client.SetActive(ctx, s)
	return err
}

// SnapshotUpdate cancels or merges a pending virtual A/B update. Merging
// is only possible from fastbootd.
func (f *Flasher) SnapshotUpdate(ctx context.Context, action string) error {
	if action == protocol.SnapshotMerge {
		if err := f.ensureUserspace(ctx); err != nil {
			return err
		}
	}
	_, err := f.client.SnapshotUpdate(ctx, action)
	return err
}

// Fetch reads partition on the configured slot into w.
func (f *Flasher) Fetch(ctx context.Context, partition string, offset, size int64, w io.Writer) error {
	target, err := f.ResolvePartition(ctx, partition, f.config.Slot)
	if err != nil {
		return err
	}
	if _, err := f.client.Fetch(ctx, target, offset, size, w); err != nil {
		return &PartitionError{Partition: target, Op: "fetch", Err: err}
	}
	return nil
}

// WipeUserData formats userdata and cache. Failures are logged and
// otherwise ignored: many devices have no cache partition.
func (f *Flasher) WipeUserData(ctx context.Context) {
	for _, partition := range []string{"userdata", "cache"} {
		f.client.Step(fmt.Sprintf("Wiping %s", partition))
		if err := f.Format(ctx, partition); err != nil {
			f.logError("wipe failed", "partition", partition, "error", err)
		}
	}
}

// FlashRaw builds a boot image from p and flashes it to partition.
func (f *Flasher) FlashRaw(ctx context.Context, partition string, p bootimg.Params) error {
	img, err := bootimg.Build(p)
	if err != nil {
		return err
	}

	target, err := f.ResolvePartition(ctx, partition, f.config.Slot)
	if err != nil {
		return err
	}
	if err := f.flashRaw(ctx, target, bytes.NewReader(img), int64(len(img))); err != nil {
		return &PartitionError{Partition: target, Op: "flash", Err: err}
	}
	return nil
}

// Boot builds a boot image from p and boots it without flashing.
func (f *Flasher) Boot(ctx context.Context, p bootimg.Params) error {
	img, err := bootimg.Build(p)
	if err != nil {
		return err
	}
	f.client.Step("Booting")
	_, err = f.client.Boot(ctx, img)
	return err
}

// logDebug logs a debug message if a logger is configured.
func (f *Flasher) logDebug(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (f *Flasher) logInfo(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (f *Flasher) logError(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Error(msg, keysAndValues...)
	}
}
