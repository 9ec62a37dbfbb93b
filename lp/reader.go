package lp

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ParseGeometry decodes a geometry block and verifies its magic, struct size
// and SHA-256 checksum.
func ParseGeometry(b []byte) (*Geometry, error) {
	if len(b) < geometryStructSize {
		return nil, invalid("geometry", "need %d bytes, got %d", geometryStructSize, len(b))
	}

	g := decodeGeometry(b)
	if g.Magic != GeometryMagic {
		return nil, invalid("geometry", "bad magic 0x%08X", g.Magic)
	}
	if g.StructSize != geometryStructSize {
		return nil, invalid("geometry", "struct size %d, want %d", g.StructSize, geometryStructSize)
	}

	if sum := geometryChecksum(b[:geometryStructSize]); sum != g.Checksum {
		return nil, invalid("geometry", "checksum mismatch")
	}

	if g.MetadataSlotCount == 0 {
		return nil, invalid("geometry", "no metadata slots")
	}
	if g.MetadataMaxSize == 0 || g.MetadataMaxSize%SectorSize != 0 {
		return nil, invalid("geometry", "metadata max size %d is not a multiple of %d", g.MetadataMaxSize, SectorSize)
	}
	if g.LogicalBlockSize == 0 || g.LogicalBlockSize%SectorSize != 0 {
		return nil, invalid("geometry", "logical block size %d is not a multiple of %d", g.LogicalBlockSize, SectorSize)
	}

	return &g, nil
}

// geometryChecksum hashes an encoded geometry with its checksum field zeroed.
func geometryChecksum(encoded []byte) [32]byte {
	buf := append([]byte(nil), encoded...)
	clear(buf[checksumOffset : checksumOffset+32])
	return sha256.Sum256(buf)
}

type tableDescriptor struct {
	offset    uint32
	count     uint32
	entrySize uint32
}

func decodeTableDescriptor(b []byte) tableDescriptor {
	return tableDescriptor{
		offset:    binary.LittleEndian.Uint32(b[0:4]),
		count:     binary.LittleEndian.Uint32(b[4:8]),
		entrySize: binary.LittleEndian.Uint32(b[8:12]),
	}
}

func (d tableDescriptor) check(name string, want, tablesSize uint32) error {
	if d.count > 0 && d.entrySize != want {
		return invalid("metadata", "%s entry size %d, want %d", name, d.entrySize, want)
	}
	if uint64(d.offset)+uint64(d.count)*uint64(d.entrySize) > uint64(tablesSize) {
		return invalid("metadata", "%s table overflows tables region", name)
	}
	return nil
}

// ParseMetadata decodes one metadata slot. b must start at the header; data
// past the tables is ignored. Header and tables checksums are verified.
func ParseMetadata(b []byte, g *Geometry) (*Metadata, error) {
	if len(b) < headerSizeV1_0 {
		return nil, invalid("metadata", "need %d header bytes, got %d", headerSizeV1_0, len(b))
	}

	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != HeaderMagic {
		return nil, invalid("metadata", "bad header magic 0x%08X", magic)
	}

	hdr := Header{
		MajorVersion: binary.LittleEndian.Uint16(b[4:6]),
		MinorVersion: binary.LittleEndian.Uint16(b[6:8]),
	}
	if hdr.MajorVersion != MajorVersion || hdr.MinorVersion > MaxMinorVersion {
		return nil, invalid("metadata", "unsupported version %d.%d", hdr.MajorVersion, hdr.MinorVersion)
	}

	headerSize := binary.LittleEndian.Uint32(b[8:12])
	if headerSize != hdr.size() {
		return nil, invalid("metadata", "header size %d for version %d.%d", headerSize, hdr.MajorVersion, hdr.MinorVersion)
	}
	if uint32(len(b)) < headerSize {
		return nil, invalid("metadata", "need %d header bytes, got %d", headerSize, len(b))
	}

	header := append([]byte(nil), b[:headerSize]...)
	var stored [32]byte
	copy(stored[:], header[headerChecksumOffset:headerChecksumOffset+32])
	clear(header[headerChecksumOffset : headerChecksumOffset+32])
	if sha256.Sum256(header) != stored {
		return nil, invalid("metadata", "header checksum mismatch")
	}

	if hdr.MinorVersion >= 2 {
		hdr.Flags = binary.LittleEndian.Uint32(b[128:132])
	}

	tablesSize := binary.LittleEndian.Uint32(b[44:48])
	if g != nil && uint64(headerSize)+uint64(tablesSize) > uint64(g.MetadataMaxSize) {
		return nil, invalid("metadata", "tables of %d bytes exceed metadata max size %d", tablesSize, g.MetadataMaxSize)
	}
	if uint64(len(b)) < uint64(headerSize)+uint64(tablesSize) {
		return nil, invalid("metadata", "tables truncated: need %d bytes, got %d", uint64(headerSize)+uint64(tablesSize), len(b))
	}

	tables := b[headerSize : headerSize+tablesSize]
	if !bytes.Equal(sumSlice(tables), b[tablesChecksumOffset:tablesChecksumOffset+32]) {
		return nil, invalid("metadata", "tables checksum mismatch")
	}

	descs := make([]tableDescriptor, 4)
	for i := range descs {
		off := tableDescriptorOffset + i*12
		descs[i] = decodeTableDescriptor(b[off : off+12])
	}
	partDesc, extDesc, groupDesc, devDesc := descs[0], descs[1], descs[2], descs[3]

	for _, c := range []struct {
		name string
		d    tableDescriptor
		size uint32
	}{
		{"partition", partDesc, partitionEntrySize},
		{"extent", extDesc, extentEntrySize},
		{"group", groupDesc, groupEntrySize},
		{"block device", devDesc, blockDeviceEntrySize},
	} {
		if err := c.d.check(c.name, c.size, tablesSize); err != nil {
			return nil, err
		}
	}

	m := &Metadata{Header: hdr}
	if g != nil {
		m.Geometry = *g
	}

	extents := make([]Extent, extDesc.count)
	for i := range extents {
		off := extDesc.offset + uint32(i)*extentEntrySize
		extents[i] = decodeExtent(tables[off : off+extentEntrySize])
	}

	for i := uint32(0); i < groupDesc.count; i++ {
		e := tables[groupDesc.offset+i*groupEntrySize:]
		m.Groups = append(m.Groups, Group{
			Name:        getName(e[0:NameLength]),
			Flags:       binary.LittleEndian.Uint32(e[36:40]),
			MaximumSize: binary.LittleEndian.Uint64(e[40:48]),
		})
	}

	for i := uint32(0); i < devDesc.count; i++ {
		off := devDesc.offset + i*blockDeviceEntrySize
		m.BlockDevices = append(m.BlockDevices, decodeBlockDevice(tables[off:off+blockDeviceEntrySize]))
	}
	if len(m.BlockDevices) == 0 {
		return nil, invalid("metadata", "no block devices")
	}

	validAttrs := attrMaskV0
	if hdr.MinorVersion >= 1 {
		validAttrs |= attrMaskV1
	}

	for i := uint32(0); i < partDesc.count; i++ {
		e := tables[partDesc.offset+i*partitionEntrySize:]
		p := Partition{
			Name:       getName(e[0:NameLength]),
			Attributes: binary.LittleEndian.Uint32(e[36:40]),
			GroupIndex: binary.LittleEndian.Uint32(e[48:52]),
		}
		first := binary.LittleEndian.Uint32(e[40:44])
		count := binary.LittleEndian.Uint32(e[44:48])

		if p.Attributes&^validAttrs != 0 {
			return nil, invalid("metadata", "partition %q has unknown attributes 0x%X", p.Name, p.Attributes)
		}
		if uint64(first)+uint64(count) > uint64(len(extents)) {
			return nil, invalid("metadata", "partition %q extents out of range", p.Name)
		}
		if p.GroupIndex >= groupDesc.count {
			return nil, invalid("metadata", "partition %q has invalid group index %d", p.Name, p.GroupIndex)
		}

		p.Extents = append([]Extent(nil), extents[first:first+count]...)
		m.Partitions = append(m.Partitions, p)
	}

	return m, nil
}

func sumSlice(b []byte) []byte {
	s := sha256.Sum256(b)
	return s[:]
}

// ReadMetadata reads the geometry and the given metadata slot from a full
// super image or partition dump. The backup copies are used when the primary
// ones fail validation.
func ReadMetadata(r io.ReaderAt, slot uint32) (*Metadata, error) {
	g, err := readGeometryAt(r, PartitionReservedBytes)
	if err != nil {
		var backupErr error
		if g, backupErr = readGeometryAt(r, PartitionReservedBytes+GeometrySize); backupErr != nil {
			return nil, err
		}
	}
	if slot >= g.MetadataSlotCount {
		return nil, fmt.Errorf("metadata slot %d out of range (%d slots)", slot, g.MetadataSlotCount)
	}

	primary := primaryMetadataOffset(g, slot)
	m, err := readMetadataAt(r, g, primary)
	if err == nil {
		return m, nil
	}

	if m, backupErr := readMetadataAt(r, g, backupMetadataOffset(g, slot)); backupErr == nil {
		return m, nil
	}
	return nil, err
}

// ReadFromImageFile parses slot 0 of a metadata image. Both layouts are
// accepted: the empty image written by WriteToImageFile, with geometry at
// offset 0, and a full super image with geometry after the reserved bytes.
func ReadFromImageFile(path string) (*Metadata, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata image: %w", err)
	}
	defer func() { _ = fh.Close() }()

	if g, err := readGeometryAt(fh, 0); err == nil {
		m, err := readMetadataAt(fh, g, GeometrySize)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return m, nil
	}

	m, err := ReadMetadata(fh, 0)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

func readGeometryAt(r io.ReaderAt, off int64) (*Geometry, error) {
	buf := make([]byte, geometryStructSize)
	if _, err := r.ReadAt(buf, off); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalid("geometry", "image ends before offset %d", off+geometryStructSize)
		}
		return nil, fmt.Errorf("read geometry: %w", err)
	}
	return ParseGeometry(buf)
}

func readMetadataAt(r io.ReaderAt, g *Geometry, off int64) (*Metadata, error) {
	buf := make([]byte, g.MetadataMaxSize)
	n, err := r.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return ParseMetadata(buf[:n], g)
}

func primaryMetadataOffset(g *Geometry, slot uint32) int64 {
	return PartitionReservedBytes + 2*GeometrySize + int64(slot)*int64(g.MetadataMaxSize)
}

func backupMetadataOffset(g *Geometry, slot uint32) int64 {
	return primaryMetadataOffset(g, g.MetadataSlotCount) + int64(slot)*int64(g.MetadataMaxSize)
}
