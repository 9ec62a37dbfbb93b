package lp

import (
	"bytes"
	"encoding/binary"
)

// On-disk constants.
const (
	// GeometryMagic identifies the geometry block ("gDla")
	GeometryMagic = 0x616C4467

	// HeaderMagic identifies a metadata header ("0PLA")
	HeaderMagic = 0x414C5030

	// MajorVersion is the only supported metadata major version
	MajorVersion = 10

	// MaxMinorVersion is the newest metadata minor version understood
	MaxMinorVersion = 2

	// SectorSize is the unit of extent and first-logical-sector fields
	SectorSize = 512

	// GeometrySize is the padded size of a geometry block on disk
	GeometrySize = 4096

	// PartitionReservedBytes precede the primary geometry in a full image
	PartitionReservedBytes = 4096

	// DefaultLogicalBlockSize is used for freshly built metadata
	DefaultLogicalBlockSize = 4096

	// DefaultPartitionAlignment is the alignment of allocated extents
	DefaultPartitionAlignment = 1 << 20

	// DefaultGroupName is the group every metadata starts with
	DefaultGroupName = "default"

	// DefaultSuperName is the block device name of a fresh builder
	DefaultSuperName = "super"

	// NameLength is the fixed size of name fields, NUL padded
	NameLength = 36
)

// Encoded struct sizes.
const (
	geometryStructSize    = 52
	headerSizeV1_0        = 128
	headerSizeV1_2        = 256
	partitionEntrySize    = 52
	extentEntrySize       = 24
	groupEntrySize        = 48
	blockDeviceEntrySize  = 64
	checksumOffset        = 8
	headerChecksumOffset  = 12
	tablesChecksumOffset  = 48
	tableDescriptorOffset = 80
)

// Partition attributes.
const (
	AttrNone         uint32 = 0
	AttrReadOnly     uint32 = 1 << 0
	AttrSlotSuffixed uint32 = 1 << 1
	AttrUpdated      uint32 = 1 << 2
	AttrDisabled     uint32 = 1 << 3

	attrMaskV0 = AttrReadOnly | AttrSlotSuffixed
	attrMaskV1 = AttrUpdated | AttrDisabled
)

// Extent target types.
const (
	TargetLinear uint32 = 0
	TargetZero   uint32 = 1
)

// Group flags.
const (
	GroupSlotSuffixed uint32 = 1 << 0
)

// Block device flags.
const (
	BlockDeviceSlotSuffixed uint32 = 1 << 0
)

// Header flags (metadata 10.2).
const (
	HeaderFlagVirtualABDevice uint32 = 1 << 0
	HeaderFlagOverlaysActive  uint32 = 1 << 1
)

// Geometry describes where metadata lives on the super partition. It is
// stored twice, after the reserved bytes, each copy padded to GeometrySize.
type Geometry struct {
	Magic             uint32
	StructSize        uint32
	Checksum          [32]byte
	MetadataMaxSize   uint32
	MetadataSlotCount uint32
	LogicalBlockSize  uint32
}

func (g *Geometry) encode() []byte {
	b := make([]byte, geometryStructSize)
	binary.LittleEndian.PutUint32(b[0:4], g.Magic)
	binary.LittleEndian.PutUint32(b[4:8], g.StructSize)
	copy(b[8:40], g.Checksum[:])
	binary.LittleEndian.PutUint32(b[40:44], g.MetadataMaxSize)
	binary.LittleEndian.PutUint32(b[44:48], g.MetadataSlotCount)
	binary.LittleEndian.PutUint32(b[48:52], g.LogicalBlockSize)
	return b
}

func decodeGeometry(b []byte) Geometry {
	var g Geometry
	g.Magic = binary.LittleEndian.Uint32(b[0:4])
	g.StructSize = binary.LittleEndian.Uint32(b[4:8])
	copy(g.Checksum[:], b[8:40])
	g.MetadataMaxSize = binary.LittleEndian.Uint32(b[40:44])
	g.MetadataSlotCount = binary.LittleEndian.Uint32(b[44:48])
	g.LogicalBlockSize = binary.LittleEndian.Uint32(b[48:52])
	return g
}

// Header carries the metadata version. Sizes, offsets and checksums are
// derived when serializing.
type Header struct {
	MajorVersion uint16
	MinorVersion uint16

	// Flags is only stored by minor version 2 and later
	Flags uint32
}

func (h Header) size() uint32 {
	if h.MinorVersion >= 2 {
		return headerSizeV1_2
	}
	return headerSizeV1_0
}

// Extent maps a run of sectors of a partition onto a block device.
type Extent struct {
	NumSectors   uint64
	TargetType   uint32
	TargetData   uint64
	TargetSource uint32
}

// End returns the first sector after a linear extent.
func (e Extent) End() uint64 {
	return e.TargetData + e.NumSectors
}

func (e Extent) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], e.NumSectors)
	binary.LittleEndian.PutUint32(b[8:12], e.TargetType)
	binary.LittleEndian.PutUint64(b[12:20], e.TargetData)
	binary.LittleEndian.PutUint32(b[20:24], e.TargetSource)
}

func decodeExtent(b []byte) Extent {
	return Extent{
		NumSectors:   binary.LittleEndian.Uint64(b[0:8]),
		TargetType:   binary.LittleEndian.Uint32(b[8:12]),
		TargetData:   binary.LittleEndian.Uint64(b[12:20]),
		TargetSource: binary.LittleEndian.Uint32(b[20:24]),
	}
}

// Partition is a logical partition and its extents in order.
type Partition struct {
	Name       string
	Attributes uint32
	GroupIndex uint32
	Extents    []Extent
}

// Size returns the number of bytes mapped by the partition's extents.
func (p *Partition) Size() uint64 {
	var sectors uint64
	for _, e := range p.Extents {
		sectors += e.NumSectors
	}
	return sectors * SectorSize
}

// Group bounds the combined size of its partitions. A MaximumSize of zero
// means unlimited.
type Group struct {
	Name        string
	Flags       uint32
	MaximumSize uint64
}

// BlockDevice is a physical device backing logical partitions.
type BlockDevice struct {
	FirstLogicalSector uint64
	Alignment          uint32
	AlignmentOffset    uint32
	Size               uint64
	PartitionName      string
	Flags              uint32
}

func (d BlockDevice) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], d.FirstLogicalSector)
	binary.LittleEndian.PutUint32(b[8:12], d.Alignment)
	binary.LittleEndian.PutUint32(b[12:16], d.AlignmentOffset)
	binary.LittleEndian.PutUint64(b[16:24], d.Size)
	putName(b[24:24+NameLength], d.PartitionName)
	binary.LittleEndian.PutUint32(b[60:64], d.Flags)
}

func decodeBlockDevice(b []byte) BlockDevice {
	return BlockDevice{
		FirstLogicalSector: binary.LittleEndian.Uint64(b[0:8]),
		Alignment:          binary.LittleEndian.Uint32(b[8:12]),
		AlignmentOffset:    binary.LittleEndian.Uint32(b[12:16]),
		Size:               binary.LittleEndian.Uint64(b[16:24]),
		PartitionName:      getName(b[24 : 24+NameLength]),
		Flags:              binary.LittleEndian.Uint32(b[60:64]),
	}
}

// Metadata is a parsed partition table.
type Metadata struct {
	Geometry     Geometry
	Header       Header
	Partitions   []Partition
	Groups       []Group
	BlockDevices []BlockDevice
}

// FindPartition returns the partition called name, or nil.
func (m *Metadata) FindPartition(name string) *Partition {
	for i := range m.Partitions {
		if m.Partitions[i].Name == name {
			return &m.Partitions[i]
		}
	}
	return nil
}

// FindGroup returns the group called name, or nil.
func (m *Metadata) FindGroup(name string) *Group {
	for i := range m.Groups {
		if m.Groups[i].Name == name {
			return &m.Groups[i]
		}
	}
	return nil
}

// PartitionSize returns the number of bytes mapped to p.
func (m *Metadata) PartitionSize(p *Partition) uint64 {
	return p.Size()
}

// PartitionNames lists the partitions in table order.
func (m *Metadata) PartitionNames() []string {
	names := make([]string, len(m.Partitions))
	for i, p := range m.Partitions {
		names[i] = p.Name
	}
	return names
}

// SuperDevice returns the first block device, which holds the metadata.
func (m *Metadata) SuperDevice() *BlockDevice {
	if len(m.BlockDevices) == 0 {
		return nil
	}
	return &m.BlockDevices[0]
}

func putName(dst []byte, name string) {
	clear(dst)
	copy(dst, name)
}

func getName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
