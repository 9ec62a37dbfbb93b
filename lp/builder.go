package lp

import (
	"fmt"
	"sort"
)

// MetadataBuilder edits a partition table and allocates extents for it.
// Allocation is first-fit over free space aligned to the super device's
// alignment; partitions not being resized keep their extents.
type MetadataBuilder struct {
	geometry     Geometry
	headerFlags  uint32
	blockDevices []BlockDevice
	groups       []Group
	partitions   []*Partition
}

// NewMetadataBuilder returns a builder for an empty super device of
// deviceSize bytes holding slotCount copies of up to metadataMaxSize bytes
// of metadata. The table starts with the "default" group.
func NewMetadataBuilder(deviceSize uint64, metadataMaxSize, slotCount uint32) (*MetadataBuilder, error) {
	if slotCount == 0 {
		return nil, fmt.Errorf("metadata slot count must be positive")
	}
	if metadataMaxSize < headerSizeV1_2 {
		return nil, fmt.Errorf("metadata max size %d is too small", metadataMaxSize)
	}
	metadataMaxSize = alignUp32(metadataMaxSize, SectorSize)

	reserved := uint64(PartitionReservedBytes) + 2*(uint64(GeometrySize)+uint64(metadataMaxSize)*uint64(slotCount))
	first := alignUp(reserved, DefaultPartitionAlignment)
	if deviceSize < first+DefaultLogicalBlockSize {
		return nil, fmt.Errorf("%w: device of %d bytes cannot hold %d bytes of metadata", ErrNoSpace, deviceSize, first)
	}

	b := &MetadataBuilder{
		geometry: Geometry{
			Magic:             GeometryMagic,
			StructSize:        geometryStructSize,
			MetadataMaxSize:   metadataMaxSize,
			MetadataSlotCount: slotCount,
			LogicalBlockSize:  DefaultLogicalBlockSize,
		},
		blockDevices: []BlockDevice{{
			FirstLogicalSector: first / SectorSize,
			Alignment:          DefaultPartitionAlignment,
			Size:               deviceSize,
			PartitionName:      DefaultSuperName,
		}},
		groups: []Group{{Name: DefaultGroupName}},
	}

	return b, nil
}

// NewBuilderFromMetadata returns a builder seeded with a copy of m, keeping
// its geometry, groups and existing extents.
func NewBuilderFromMetadata(m *Metadata) (*MetadataBuilder, error) {
	if len(m.BlockDevices) == 0 {
		return nil, invalid("metadata", "no block devices")
	}
	if m.Geometry.MetadataSlotCount == 0 || m.Geometry.LogicalBlockSize == 0 {
		return nil, invalid("metadata", "missing geometry")
	}

	b := &MetadataBuilder{
		geometry:     m.Geometry,
		headerFlags:  m.Header.Flags,
		blockDevices: append([]BlockDevice(nil), m.BlockDevices...),
		groups:       append([]Group(nil), m.Groups...),
	}
	if b.FindGroup(DefaultGroupName) == nil {
		b.groups = append(b.groups, Group{Name: DefaultGroupName})
	}

	for _, p := range m.Partitions {
		c := p
		c.Extents = append([]Extent(nil), p.Extents...)
		b.partitions = append(b.partitions, &c)
	}

	return b, nil
}

// Geometry returns the geometry the builder will export.
func (b *MetadataBuilder) Geometry() Geometry {
	return b.geometry
}

// SuperDevice returns the block device holding the metadata.
func (b *MetadataBuilder) SuperDevice() BlockDevice {
	return b.blockDevices[0]
}

// SetVirtualABDeviceFlag marks the metadata as belonging to a Virtual A/B
// device. This raises the exported minor version to 2.
func (b *MetadataBuilder) SetVirtualABDeviceFlag() {
	b.headerFlags |= HeaderFlagVirtualABDevice
}

// AddGroup adds a partition group. A maxSize of zero means unlimited.
func (b *MetadataBuilder) AddGroup(name string, maxSize uint64) error {
	if len(name) > NameLength {
		return fmt.Errorf("group name %q longer than %d bytes", name, NameLength)
	}
	if b.FindGroup(name) != nil {
		return fmt.Errorf("group %q: %w", name, ErrExists)
	}
	b.groups = append(b.groups, Group{Name: name, MaximumSize: maxSize})
	return nil
}

// FindGroup returns the group called name, or nil.
func (b *MetadataBuilder) FindGroup(name string) *Group {
	for i := range b.groups {
		if b.groups[i].Name == name {
			return &b.groups[i]
		}
	}
	return nil
}

func (b *MetadataBuilder) groupIndex(name string) (uint32, bool) {
	for i := range b.groups {
		if b.groups[i].Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// AddPartition adds an empty partition to group.
func (b *MetadataBuilder) AddPartition(name, group string, attrs uint32) (*Partition, error) {
	if name == "" || len(name) > NameLength {
		return nil, fmt.Errorf("invalid partition name %q", name)
	}
	if b.FindPartition(name) != nil {
		return nil, fmt.Errorf("partition %q: %w", name, ErrExists)
	}
	idx, ok := b.groupIndex(group)
	if !ok {
		return nil, fmt.Errorf("group %q: %w", group, ErrNotFound)
	}

	p := &Partition{Name: name, Attributes: attrs, GroupIndex: idx}
	b.partitions = append(b.partitions, p)
	return p, nil
}

// FindPartition returns the partition called name, or nil.
func (b *MetadataBuilder) FindPartition(name string) *Partition {
	for _, p := range b.partitions {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Partitions returns the partitions in table order.
func (b *MetadataBuilder) Partitions() []*Partition {
	return b.partitions
}

// RemovePartition drops the partition called name and frees its extents.
func (b *MetadataBuilder) RemovePartition(name string) {
	for i, p := range b.partitions {
		if p.Name == name {
			b.partitions = append(b.partitions[:i], b.partitions[i+1:]...)
			return
		}
	}
}

// ResizePartition grows or shrinks p to size bytes rounded up to the logical
// block size. Shrinking trims extents from the end; growing allocates
// first-fit from free space. Other partitions are never moved.
func (b *MetadataBuilder) ResizePartition(p *Partition, size uint64) error {
	target := alignUp(size, uint64(b.geometry.LogicalBlockSize))
	current := p.Size()

	switch {
	case target == current:
		return nil
	case target < current:
		b.shrink(p, target/SectorSize)
		return nil
	}

	if int(p.GroupIndex) >= len(b.groups) {
		return fmt.Errorf("partition %q has invalid group index %d", p.Name, p.GroupIndex)
	}
	group := b.groups[p.GroupIndex]
	if group.MaximumSize > 0 {
		used := b.groupUsage(p.GroupIndex) - current
		if used+target > group.MaximumSize {
			return fmt.Errorf("%w: %q needs %d bytes, group %q allows %d with %d used by other partitions",
				ErrGroupFull, p.Name, target, group.Name, group.MaximumSize, used)
		}
	}

	needed := (target - current) / SectorSize
	var added []Extent
	for _, r := range b.freeRegions() {
		if needed == 0 {
			break
		}
		n := min(needed, r.end-r.start)
		added = append(added, Extent{NumSectors: n, TargetType: TargetLinear, TargetData: r.start})
		needed -= n
	}
	if needed > 0 {
		return fmt.Errorf("%w: %q needs %d more bytes", ErrNoSpace, p.Name, needed*SectorSize)
	}

	for _, e := range added {
		last := len(p.Extents) - 1
		if last >= 0 && p.Extents[last].TargetType == TargetLinear &&
			p.Extents[last].TargetSource == e.TargetSource && p.Extents[last].End() == e.TargetData {
			p.Extents[last].NumSectors += e.NumSectors
			continue
		}
		p.Extents = append(p.Extents, e)
	}

	return nil
}

func (b *MetadataBuilder) shrink(p *Partition, sectors uint64) {
	var kept []Extent
	for _, e := range p.Extents {
		if sectors == 0 {
			break
		}
		if e.NumSectors > sectors {
			e.NumSectors = sectors
		}
		kept = append(kept, e)
		sectors -= e.NumSectors
	}
	p.Extents = kept
}

func (b *MetadataBuilder) groupUsage(group uint32) uint64 {
	var used uint64
	for _, p := range b.partitions {
		if p.GroupIndex == group {
			used += p.Size()
		}
	}
	return used
}

type region struct {
	start, end uint64
}

// freeRegions returns unallocated sector ranges of the super device in
// ascending order, each start aligned to the device alignment.
func (b *MetadataBuilder) freeRegions() []region {
	dev := b.blockDevices[0]
	blockSectors := uint64(b.geometry.LogicalBlockSize) / SectorSize
	end := dev.Size / uint64(b.geometry.LogicalBlockSize) * blockSectors

	var used []region
	for _, p := range b.partitions {
		for _, e := range p.Extents {
			if e.TargetType == TargetLinear && e.TargetSource == 0 {
				used = append(used, region{e.TargetData, e.End()})
			}
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i].start < used[j].start })

	alignSectors := uint64(dev.Alignment) / SectorSize
	if alignSectors == 0 {
		alignSectors = blockSectors
	}
	offsetSectors := uint64(dev.AlignmentOffset) / SectorSize

	var free []region
	add := func(start, stop uint64) {
		aligned := offsetSectors
		if start > offsetSectors {
			aligned = alignUp(start-offsetSectors, alignSectors) + offsetSectors
		}
		if aligned < stop {
			free = append(free, region{aligned, stop})
		}
	}

	cursor := dev.FirstLogicalSector
	for _, u := range used {
		if u.start > cursor {
			add(cursor, min(u.start, end))
		}
		cursor = max(cursor, u.end)
	}
	if cursor < end {
		add(cursor, end)
	}

	return free
}

// Export returns the finished table. The minor version is the lowest that
// can represent the attributes and flags in use.
func (b *MetadataBuilder) Export() (*Metadata, error) {
	m := &Metadata{
		Geometry:     b.geometry,
		Header:       Header{MajorVersion: MajorVersion, Flags: b.headerFlags},
		Groups:       append([]Group(nil), b.groups...),
		BlockDevices: append([]BlockDevice(nil), b.blockDevices...),
	}

	for _, p := range b.partitions {
		if p.Attributes&attrMaskV1 != 0 && m.Header.MinorVersion < 1 {
			m.Header.MinorVersion = 1
		}
		c := *p
		c.Extents = append([]Extent(nil), p.Extents...)
		m.Partitions = append(m.Partitions, c)
	}
	if b.headerFlags != 0 {
		m.Header.MinorVersion = 2
	}

	if _, err := SerializeMetadata(m); err != nil {
		return nil, fmt.Errorf("export metadata: %w", err)
	}

	return m, nil
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

func alignUp32(v, align uint32) uint32 {
	return uint32(alignUp(uint64(v), uint64(align)))
}
