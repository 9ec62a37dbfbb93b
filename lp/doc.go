// Package lp reads, edits and writes logical partition metadata, the table
// that carves dynamic partitions out of a single "super" partition.
//
// # Layout
//
// A full super partition starts with:
//
//	[RESERVED(4096)][GEOMETRY(4096)][BACKUP GEOMETRY(4096)]
//	[METADATA SLOT 0..N-1][BACKUP METADATA SLOT 0..N-1]
//
// Each metadata slot is MetadataMaxSize bytes holding a header followed by
// the partition, extent, group and block device tables. The geometry and the
// header each carry a SHA-256 checksum computed with the checksum field
// zeroed; the tables carry a second checksum stored in the header.
//
// The "empty" image used for super_empty.img and update-super omits the
// reserved bytes and the backups: one geometry block then one metadata slot.
// ReadFromImageFile accepts both.
//
// # Building
//
//	b, err := lp.NewMetadataBuilder(8<<30, 65536, 2)
//	p, err := b.AddPartition("system_a", lp.DefaultGroupName, lp.AttrReadOnly)
//	err = b.ResizePartition(p, imageSize)
//	m, err := b.Export()
//
// Extents are allocated first-fit from free space aligned to the super
// device's alignment. Resizing one partition never moves another.
package lp
