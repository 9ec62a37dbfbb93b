package flash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moffa90/go-fastboot/productinfo"
	"github.com/moffa90/go-fastboot/protocol"
	"github.com/moffa90/go-fastboot/superimg"
)

// Product directory file names.
const (
	AndroidInfoFile  = "android-info.txt"
	FastbootInfoFile = "fastboot-info.txt"
	SuperEmptyImage  = "super_empty.img"
)

// DefaultMetadataMaxSize and DefaultMetadataSlots lay out super images
// built without a template.
const (
	DefaultMetadataMaxSize = 65536
	DefaultMetadataSlots   = 2
)

// PartitionPriority is the order FlashAll flashes images in. Images not
// listed follow in name order.
var PartitionPriority = []string{
	"boot", "dtbo", "init_boot", "vendor_boot", "pvmfw",
	"vbmeta", "vbmeta_system", "vbmeta_vendor", "vbmeta_custom",
	"recovery", "system", "vendor", "product", "system_ext", "odm",
	"vendor_dlkm", "odm_dlkm", "system_dlkm",
}

func priority(partition string) int {
	for i, p := range PartitionPriority {
		if p == strings.ToLower(partition) {
			return i
		}
	}
	return len(PartitionPriority)
}

// FlashAll flashes a product directory. The directory's android-info.txt,
// when present, must match the device. When fastboot-info.txt is present
// its tasks are run in order; otherwise every *.img is flashed in
// PartitionPriority order, logical partitions through one combined super
// image. With wipe set userdata and cache are wiped afterwards.
func (f *Flasher) FlashAll(ctx context.Context, dir string, wipe bool) error {
	if err := f.CheckRequirements(ctx, filepath.Join(dir, AndroidInfoFile)); err != nil {
		return err
	}

	if f.config.SuperTemplate == "" {
		if _, err := os.Stat(filepath.Join(dir, SuperEmptyImage)); err == nil {
			f.config.SuperTemplate = filepath.Join(dir, SuperEmptyImage)
		}
	}

	infoPath := filepath.Join(dir, FastbootInfoFile)
	if _, err := os.Stat(infoPath); err == nil {
		plan, err := productinfo.ParseFastbootInfoFile(infoPath)
		if err != nil {
			return fmt.Errorf("%s: %w", infoPath, err)
		}
		return f.RunPlan(ctx, dir, plan, wipe)
	}

	if err := f.flashDirectory(ctx, dir); err != nil {
		return err
	}

	if wipe {
		f.WipeUserData(ctx)
	}
	return nil
}

// CheckRequirements verifies the android-info.txt at path against the
// device. A missing file is not an error.
func (f *Flasher) CheckRequirements(ctx context.Context, path string) error {
	req, err := productinfo.Parse(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	f.client.Step("Checking product requirements")
	err = req.Check(func(name string) (string, error) {
		return f.client.GetVar(ctx, name)
	})
	if err != nil {
		return &RequirementError{Path: path, Err: err}
	}
	return nil
}

// flashDirectory flashes every image of dir in priority order.
func (f *Flasher) flashDirectory(ctx context.Context, dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.img"))
	if err != nil {
		return err
	}

	var images []ImagePlan
	for _, p := range paths {
		partition := strings.TrimSuffix(filepath.Base(p), ".img")
		if partition == "super_empty" {
			continue
		}
		images = append(images, ImagePlan{Partition: partition, Path: p})
	}
	if len(images) == 0 {
		return fmt.Errorf("%s: %w", dir, ErrNoImages)
	}

	sort.SliceStable(images, func(i, j int) bool {
		pi, pj := priority(images[i].Partition), priority(images[j].Partition)
		if pi != pj {
			return pi < pj
		}
		return images[i].Partition < images[j].Partition
	})

	limit := f.sparseLimit(ctx)
	plans, err := f.planImages(ctx, images, f.threshold(limit))
	if err != nil {
		return err
	}

	logical := make(map[string]string)
	for _, plan := range plans {
		targets, err := f.ResolveAll(ctx, plan.Partition, f.config.Slot)
		if err != nil {
			return err
		}
		if f.IsLogical(ctx, targets[0]) {
			logical[plan.Partition] = plan.Path
			continue
		}

		for _, target := range targets {
			plan.Partition = target
			if err := f.flashPlan(ctx, plan, limit); err != nil {
				return &PartitionError{Partition: target, Op: "flash", Err: err}
			}
		}
		if err := f.sendSignature(ctx, dir, strings.TrimSuffix(filepath.Base(plan.Path), ".img")); err != nil {
			return err
		}
	}

	if len(logical) > 0 {
		return f.FlashSuper(ctx, logical)
	}
	return nil
}

// sendSignature sends <dir>/<name>.sig when it exists.
func (f *Flasher) sendSignature(ctx context.Context, dir, name string) error {
	if f.config.SkipSignatures {
		return nil
	}
	sig, err := os.ReadFile(filepath.Join(dir, name+".sig"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}

	f.client.Step(fmt.Sprintf("Sending signature for %s", name))
	if _, err := f.client.Signature(ctx, sig); err != nil {
		return &PartitionError{Partition: name, Op: "signature", Err: err}
	}
	return nil
}

// FlashSuper builds one super image holding the given logical partition
// images, keyed by partition name without slot suffix, and flashes it to
// the device's super partition. The layout comes from the super template
// when one is configured, otherwise from the size of the super partition.
func (f *Flasher) FlashSuper(ctx context.Context, images map[string]string) error {
	superName := f.client.SuperPartitionName(ctx)

	builder, err := f.superBuilder(ctx, superName)
	if err != nil {
		return err
	}
	defer func() { _ = builder.Close() }()

	slot, _ := f.resolveSlot(ctx, f.config.Slot)

	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		target := name
		if slot != "" && builder.FindPartition(name+"_"+slot) != nil {
			target = name + "_" + slot
		}
		if err := builder.AddPartition(target, images[name], ""); err != nil {
			return &PartitionError{Partition: target, Op: "add to super", Err: err}
		}
	}

	f.client.Step(fmt.Sprintf("Building %s image", superName))
	img, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build %s: %w", superName, err)
	}

	if err := f.flashSparse(ctx, superName, img, f.sparseLimit(ctx)); err != nil {
		return &PartitionError{Partition: superName, Op: "flash", Err: err}
	}
	return nil
}

func (f *Flasher) superBuilder(ctx context.Context, superName string) (*superimg.Builder, error) {
	if f.config.SuperTemplate != "" {
		return superimg.FromTemplate(f.config.SuperTemplate)
	}

	size, err := f.client.PartitionSize(ctx, superName)
	if err != nil {
		return nil, fmt.Errorf("size of %s: %w", superName, err)
	}
	return superimg.New(uint64(size), DefaultMetadataMaxSize, DefaultMetadataSlots)
}

// RunPlan runs the tasks of a fastboot-info.txt against the images in dir.
// Tasks marked if-wipe only run when wipe is set.
//
// On a device in the bootloader with a super template configured, the
// plan's logical images are combined into one super image, flashed where
// the first of them appears. The plan's update-super and reboot fastboot
// tasks are skipped then, since the flashed super already carries the
// layout.
func (f *Flasher) RunPlan(ctx context.Context, dir string, plan *productinfo.Plan, wipe bool) error {
	var tasks []productinfo.Task
	for _, task := range plan.Tasks {
		if task.IfWipe && !wipe {
			continue
		}
		tasks = append(tasks, task)
	}

	logical, err := f.planSuper(ctx, dir, tasks)
	if err != nil {
		return err
	}
	superDone := false

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		if logical != nil {
			switch {
			case task.Kind == productinfo.TaskFlash && logical[task.Partition] != "" && !task.SlotOther:
				if superDone {
					continue
				}
				superDone = true
				if err := f.FlashSuper(ctx, logical); err != nil {
					return fmt.Errorf("%s line %d: %w", FastbootInfoFile, task.Line, err)
				}
				continue
			case task.Kind == productinfo.TaskUpdateSuper,
				task.Kind == productinfo.TaskReboot && task.Target == protocol.RebootFastboot:
				f.logDebug("task covered by super image", "line", task.Line, "task", task.Kind.String())
				continue
			}
		}

		if err := f.runTask(ctx, dir, task); err != nil {
			return fmt.Errorf("%s line %d: %w", FastbootInfoFile, task.Line, err)
		}
	}
	return nil
}

// planSuper returns the logical images of tasks, keyed by partition, when
// they should be flashed as one super image. It returns nil when the
// device runs fastbootd or no super template is configured.
func (f *Flasher) planSuper(ctx context.Context, dir string, tasks []productinfo.Task) (map[string]string, error) {
	if f.config.SuperTemplate == "" || f.client.IsUserspace(ctx) {
		return nil, nil
	}

	logical := make(map[string]string)
	for _, task := range tasks {
		if task.Kind != productinfo.TaskFlash || task.SlotOther {
			continue
		}
		targets, err := f.ResolveAll(ctx, task.Partition, f.config.Slot)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", FastbootInfoFile, task.Line, err)
		}
		if f.IsLogical(ctx, targets[0]) {
			logical[task.Partition] = filepath.Join(dir, task.ImageName())
		}
	}
	if len(logical) == 0 {
		return nil, nil
	}
	return logical, nil
}

func (f *Flasher) runTask(ctx context.Context, dir string, task productinfo.Task) error {
	switch task.Kind {
	case productinfo.TaskFlash:
		slot := f.config.Slot
		if task.SlotOther {
			slot = SlotOther
		}
		targets, err := f.ResolveAll(ctx, task.Partition, slot)
		if err != nil {
			return err
		}

		flags := f.config.VbmetaFlags
		if !task.ApplyVbmeta {
			f.config.VbmetaFlags = 0
		}
		defer func() { f.config.VbmetaFlags = flags }()

		path := filepath.Join(dir, task.ImageName())
		for _, target := range targets {
			if err := f.flashPath(ctx, target, path); err != nil {
				return &PartitionError{Partition: target, Op: "flash", Err: err}
			}
		}
		return f.sendSignature(ctx, dir, strings.TrimSuffix(task.ImageName(), ".img"))

	case productinfo.TaskErase:
		return f.Erase(ctx, task.Partition)

	case productinfo.TaskReboot:
		f.client.Step(fmt.Sprintf("Rebooting into %s", task.Target))
		return f.reboot(ctx, task.Target)

	case productinfo.TaskUpdateSuper:
		return f.updateSuper(ctx, dir)

	default:
		return fmt.Errorf("unsupported task %s", task.Kind)
	}
}

// updateSuper sends super_empty.img so the device rewrites its logical
// partition table.
func (f *Flasher) updateSuper(ctx context.Context, dir string) error {
	path := f.config.SuperTemplate
	if path == "" {
		path = filepath.Join(dir, SuperEmptyImage)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read super template: %w", err)
	}

	superName := f.client.SuperPartitionName(ctx)
	f.client.Step(fmt.Sprintf("Updating %s", superName))
	_, err = f.client.UpdateSuper(ctx, superName, data, false)
	return err
}
