package lp

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
)

// SerializeGeometry encodes g with a fresh checksum, padded to GeometrySize.
func SerializeGeometry(g *Geometry) []byte {
	out := make([]byte, GeometrySize)

	c := *g
	c.Magic = GeometryMagic
	c.StructSize = geometryStructSize
	c.Checksum = [32]byte{}
	c.Checksum = sha256.Sum256(c.encode())

	copy(out, c.encode())
	return out
}

// SerializeMetadata encodes m as one metadata slot: header followed by the
// partition, extent, group and block device tables. Checksums and table
// descriptors are recomputed. The result must fit the geometry's
// MetadataMaxSize.
func SerializeMetadata(m *Metadata) ([]byte, error) {
	hdr := m.Header
	if hdr.MajorVersion == 0 {
		hdr.MajorVersion = MajorVersion
	}
	if hdr.MajorVersion != MajorVersion || hdr.MinorVersion > MaxMinorVersion {
		return nil, fmt.Errorf("cannot serialize metadata version %d.%d", hdr.MajorVersion, hdr.MinorVersion)
	}

	var extentCount int
	for _, p := range m.Partitions {
		extentCount += len(p.Extents)
	}

	partSize := len(m.Partitions) * partitionEntrySize
	extSize := extentCount * extentEntrySize
	groupSize := len(m.Groups) * groupEntrySize
	devSize := len(m.BlockDevices) * blockDeviceEntrySize

	tables := make([]byte, partSize+extSize+groupSize+devSize)
	parts := tables[:partSize]
	exts := tables[partSize : partSize+extSize]
	groups := tables[partSize+extSize : partSize+extSize+groupSize]
	devs := tables[partSize+extSize+groupSize:]

	var extIndex int
	for i, p := range m.Partitions {
		if len(p.Name) > NameLength {
			return nil, fmt.Errorf("partition name %q longer than %d bytes", p.Name, NameLength)
		}
		if int(p.GroupIndex) >= len(m.Groups) {
			return nil, fmt.Errorf("partition %q references group %d of %d", p.Name, p.GroupIndex, len(m.Groups))
		}

		e := parts[i*partitionEntrySize:]
		putName(e[0:NameLength], p.Name)
		binary.LittleEndian.PutUint32(e[36:40], p.Attributes)
		binary.LittleEndian.PutUint32(e[40:44], uint32(extIndex))
		binary.LittleEndian.PutUint32(e[44:48], uint32(len(p.Extents)))
		binary.LittleEndian.PutUint32(e[48:52], p.GroupIndex)

		for _, ext := range p.Extents {
			ext.encode(exts[extIndex*extentEntrySize:])
			extIndex++
		}
	}

	for i, g := range m.Groups {
		if len(g.Name) > NameLength {
			return nil, fmt.Errorf("group name %q longer than %d bytes", g.Name, NameLength)
		}
		e := groups[i*groupEntrySize:]
		putName(e[0:NameLength], g.Name)
		binary.LittleEndian.PutUint32(e[36:40], g.Flags)
		binary.LittleEndian.PutUint64(e[40:48], g.MaximumSize)
	}

	for i, d := range m.BlockDevices {
		d.encode(devs[i*blockDeviceEntrySize:])
	}

	headerSize := hdr.size()
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], HeaderMagic)
	binary.LittleEndian.PutUint16(header[4:6], hdr.MajorVersion)
	binary.LittleEndian.PutUint16(header[6:8], hdr.MinorVersion)
	binary.LittleEndian.PutUint32(header[8:12], headerSize)
	binary.LittleEndian.PutUint32(header[44:48], uint32(len(tables)))
	tablesSum := sha256.Sum256(tables)
	copy(header[tablesChecksumOffset:tablesChecksumOffset+32], tablesSum[:])

	descs := []tableDescriptor{
		{offset: 0, count: uint32(len(m.Partitions)), entrySize: partitionEntrySize},
		{offset: uint32(partSize), count: uint32(extentCount), entrySize: extentEntrySize},
		{offset: uint32(partSize + extSize), count: uint32(len(m.Groups)), entrySize: groupEntrySize},
		{offset: uint32(partSize + extSize + groupSize), count: uint32(len(m.BlockDevices)), entrySize: blockDeviceEntrySize},
	}
	for i, d := range descs {
		off := tableDescriptorOffset + i*12
		binary.LittleEndian.PutUint32(header[off:off+4], d.offset)
		binary.LittleEndian.PutUint32(header[off+4:off+8], d.count)
		binary.LittleEndian.PutUint32(header[off+8:off+12], d.entrySize)
	}
	if hdr.MinorVersion >= 2 {
		binary.LittleEndian.PutUint32(header[128:132], hdr.Flags)
	}

	headerSum := sha256.Sum256(header)
	copy(header[headerChecksumOffset:headerChecksumOffset+32], headerSum[:])

	out := append(header, tables...)
	if limit := m.Geometry.MetadataMaxSize; limit > 0 && uint32(len(out)) > limit {
		return nil, fmt.Errorf("%w: metadata is %d bytes, geometry allows %d", ErrNoSpace, len(out), limit)
	}

	return out, nil
}

// SerializeSuperHeader returns the leading region of a full super image:
// reserved bytes, primary and backup geometry, then every primary and every
// backup metadata slot, each holding m.
func SerializeSuperHeader(m *Metadata) ([]byte, error) {
	blob, err := SerializeMetadata(m)
	if err != nil {
		return nil, err
	}

	g := &m.Geometry
	geometry := SerializeGeometry(g)
	size := backupMetadataOffset(g, g.MetadataSlotCount)
	out := make([]byte, size)

	copy(out[PartitionReservedBytes:], geometry)
	copy(out[PartitionReservedBytes+GeometrySize:], geometry)
	for slot := uint32(0); slot < g.MetadataSlotCount; slot++ {
		copy(out[primaryMetadataOffset(g, slot):], blob)
		copy(out[backupMetadataOffset(g, slot):], blob)
	}

	return out, nil
}

// SuperHeaderSize returns the length of the region SerializeSuperHeader
// produces for geometry g.
func SuperHeaderSize(g *Geometry) int64 {
	return backupMetadataOffset(g, g.MetadataSlotCount)
}

// WriteToImageFile writes the empty-image layout: one geometry block
// followed by a single metadata slot. This is the format of super_empty.img
// and the payload of update-super.
func WriteToImageFile(path string, m *Metadata) error {
	blob, err := SerializeMetadata(m)
	if err != nil {
		return err
	}

	data := append(SerializeGeometry(&m.Geometry), blob...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata image: %w", err)
	}
	return nil
}
