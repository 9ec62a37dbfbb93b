package lp

import (
	"errors"
	"testing"
)

func newTestBuilder(t *testing.T, size uint64) *MetadataBuilder {
	t.Helper()
	b, err := NewMetadataBuilder(size, 65536, 2)
	if err != nil {
		t.Fatalf("NewMetadataBuilder() unexpected error: %v", err)
	}
	return b
}

func checkNoOverlap(t *testing.T, m *Metadata) {
	t.Helper()

	type span struct {
		name       string
		start, end uint64
	}
	var spans []span
	for _, p := range m.Partitions {
		for _, e := range p.Extents {
			if e.TargetType != TargetLinear {
				continue
			}
			for _, s := range spans {
				if e.TargetData < s.end && s.start < e.End() {
					t.Errorf("%s extent [%d,%d) overlaps %s [%d,%d)", p.Name, e.TargetData, e.End(), s.name, s.start, s.end)
				}
			}
			if e.TargetData < m.SuperDevice().FirstLogicalSector {
				t.Errorf("%s extent starts at sector %d inside metadata region", p.Name, e.TargetData)
			}
			spans = append(spans, span{p.Name, e.TargetData, e.End()})
		}
	}
}

func TestNewMetadataBuilder(t *testing.T) {
	b := newTestBuilder(t, 4<<30)

	dev := b.SuperDevice()
	if dev.FirstLogicalSector != (1<<20)/SectorSize {
		t.Errorf("FirstLogicalSector = %d, want %d", dev.FirstLogicalSector, (1<<20)/SectorSize)
	}
	if b.FindGroup(DefaultGroupName) == nil {
		t.Error("default group missing")
	}
	if g := b.Geometry(); g.MetadataSlotCount != 2 || g.MetadataMaxSize != 65536 {
		t.Errorf("Geometry() = %+v", g)
	}

	if _, err := NewMetadataBuilder(1<<20, 65536, 2); !errors.Is(err, ErrNoSpace) {
		t.Errorf("tiny device error = %v, want ErrNoSpace", err)
	}
	if _, err := NewMetadataBuilder(4<<30, 65536, 0); err == nil {
		t.Error("zero slot count should fail")
	}
}

func TestResizePartition(t *testing.T) {
	b := newTestBuilder(t, 64<<20)

	system, err := b.AddPartition("system", DefaultGroupName, AttrReadOnly)
	if err != nil {
		t.Fatalf("AddPartition() unexpected error: %v", err)
	}
	vendor, err := b.AddPartition("vendor", DefaultGroupName, AttrReadOnly)
	if err != nil {
		t.Fatalf("AddPartition() unexpected error: %v", err)
	}

	if err := b.ResizePartition(system, 10<<20); err != nil {
		t.Fatalf("ResizePartition(system) unexpected error: %v", err)
	}
	if err := b.ResizePartition(vendor, 5000); err != nil {
		t.Fatalf("ResizePartition(vendor) unexpected error: %v", err)
	}
	if got := vendor.Size(); got != 8192 {
		t.Errorf("vendor size = %d, want 8192 (rounded to logical block)", got)
	}

	vendorExtents := append([]Extent(nil), vendor.Extents...)

	if err := b.ResizePartition(system, 20<<20); err != nil {
		t.Fatalf("growing system unexpected error: %v", err)
	}
	if got := system.Size(); got != 20<<20 {
		t.Errorf("system size = %d, want %d", got, 20<<20)
	}
	if len(vendor.Extents) != len(vendorExtents) || vendor.Extents[0] != vendorExtents[0] {
		t.Errorf("growing system moved vendor: %+v -> %+v", vendorExtents, vendor.Extents)
	}
	if len(system.Extents) < 2 {
		t.Errorf("system should span vendor with a second extent, got %+v", system.Extents)
	}

	if err := b.ResizePartition(system, 4<<20); err != nil {
		t.Fatalf("shrinking system unexpected error: %v", err)
	}
	if got := system.Size(); got != 4<<20 {
		t.Errorf("shrunk system size = %d, want %d", got, 4<<20)
	}

	m, err := b.Export()
	if err != nil {
		t.Fatalf("Export() unexpected error: %v", err)
	}
	checkNoOverlap(t, m)

	if err := b.ResizePartition(system, 1<<30); !errors.Is(err, ErrNoSpace) {
		t.Errorf("oversized resize error = %v, want ErrNoSpace", err)
	}
	if got := system.Size(); got != 4<<20 {
		t.Errorf("failed resize changed size to %d", got)
	}
}

func TestResizePartitionGroupLimit(t *testing.T) {
	b := newTestBuilder(t, 64<<20)
	if err := b.AddGroup("small", 4<<20); err != nil {
		t.Fatalf("AddGroup() unexpected error: %v", err)
	}

	a, _ := b.AddPartition("a", "small", AttrNone)
	c, _ := b.AddPartition("c", "small", AttrNone)

	if err := b.ResizePartition(a, 3<<20); err != nil {
		t.Fatalf("ResizePartition(a) unexpected error: %v", err)
	}
	if err := b.ResizePartition(c, 2<<20); !errors.Is(err, ErrGroupFull) {
		t.Errorf("ResizePartition(c) error = %v, want ErrGroupFull", err)
	}
	if err := b.ResizePartition(c, 1<<20); err != nil {
		t.Errorf("ResizePartition(c) within limit unexpected error: %v", err)
	}
}

func TestBuilderNamesAndGroups(t *testing.T) {
	b := newTestBuilder(t, 64<<20)

	if err := b.AddGroup(DefaultGroupName, 0); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate group error = %v, want ErrExists", err)
	}
	if _, err := b.AddPartition("system", "nope", AttrNone); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown group error = %v, want ErrNotFound", err)
	}
	if _, err := b.AddPartition("system", DefaultGroupName, AttrNone); err != nil {
		t.Fatalf("AddPartition() unexpected error: %v", err)
	}
	if _, err := b.AddPartition("system", DefaultGroupName, AttrNone); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate partition error = %v, want ErrExists", err)
	}

	b.RemovePartition("system")
	if b.FindPartition("system") != nil {
		t.Error("RemovePartition() left the partition in place")
	}
}

func TestExportMinorVersion(t *testing.T) {
	b := newTestBuilder(t, 64<<20)

	m, err := b.Export()
	if err != nil {
		t.Fatalf("Export() unexpected error: %v", err)
	}
	if m.Header.MinorVersion != 0 {
		t.Errorf("plain metadata minor version = %d, want 0", m.Header.MinorVersion)
	}

	if _, err := b.AddPartition("system", DefaultGroupName, AttrReadOnly|AttrUpdated); err != nil {
		t.Fatalf("AddPartition() unexpected error: %v", err)
	}
	if m, _ = b.Export(); m.Header.MinorVersion != 1 {
		t.Errorf("updated attribute minor version = %d, want 1", m.Header.MinorVersion)
	}

	b.SetVirtualABDeviceFlag()
	if m, _ = b.Export(); m.Header.MinorVersion != 2 {
		t.Errorf("virtual A/B minor version = %d, want 2", m.Header.MinorVersion)
	}

	blob, err := SerializeMetadata(m)
	if err != nil {
		t.Fatalf("SerializeMetadata() unexpected error: %v", err)
	}
	parsed, err := ParseMetadata(blob, &m.Geometry)
	if err != nil {
		t.Fatalf("ParseMetadata() unexpected error: %v", err)
	}
	if parsed.Header.Flags != HeaderFlagVirtualABDevice {
		t.Errorf("parsed flags = %d, want %d", parsed.Header.Flags, HeaderFlagVirtualABDevice)
	}
}

func TestBuilderFromMetadataKeepsExtents(t *testing.T) {
	m := testMetadata(t)

	b, err := NewBuilderFromMetadata(m)
	if err != nil {
		t.Fatalf("NewBuilderFromMetadata() unexpected error: %v", err)
	}

	before := append([]Extent(nil), m.FindPartition("system_a").Extents...)

	vendor := b.FindPartition("vendor_a")
	if err := b.ResizePartition(vendor, 6<<20); err != nil {
		t.Fatalf("ResizePartition() unexpected error: %v", err)
	}

	out, err := b.Export()
	if err != nil {
		t.Fatalf("Export() unexpected error: %v", err)
	}
	checkNoOverlap(t, out)

	after := out.FindPartition("system_a").Extents
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("system_a extents changed: %+v -> %+v", before, after)
	}
	if got := out.FindPartition("vendor_a").Size(); got != 6<<20 {
		t.Errorf("vendor_a size = %d, want %d", got, 6<<20)
	}
	if got := m.FindPartition("vendor_a").Size(); got == 6<<20 {
		t.Error("builder modified the source metadata")
	}
}
