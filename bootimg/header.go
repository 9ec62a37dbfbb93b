package bootimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Format constants.
const (
	Magic      = "ANDROID!"
	MagicSize  = 8
	NameSize   = 16
	ArgsSize   = 512
	ExtraSize  = 1024
	IDSize     = 32
	V3ArgsSize = ArgsSize + ExtraSize

	// VersionOffset is where every layout stores its header version
	VersionOffset = 40

	// V3PageSize is the fixed page size of version 3 and 4 images
	V3PageSize = 4096
)

// Encoded header sizes per version.
const (
	sizeV0 = MagicSize + 10*4 + NameSize + ArgsSize + IDSize + ExtraSize
	sizeV1 = sizeV0 + 4 + 8 + 4
	sizeV2 = sizeV1 + 4 + 8
	sizeV3 = MagicSize + 4*4 + 4*4 + 4 + V3ArgsSize
	sizeV4 = sizeV3 + 4
)

// Header is one boot image header layout.
type Header interface {
	// Version returns the header_version field
	Version() uint32

	// Size returns the encoded header length in bytes
	Size() int

	encode() []byte
}

// HeaderV0 is the legacy page-aligned layout.
type HeaderV0 struct {
	KernelSize  uint32
	KernelAddr  uint32
	RamdiskSize uint32
	RamdiskAddr uint32
	SecondSize  uint32
	SecondAddr  uint32
	TagsAddr    uint32
	PageSize    uint32
	OsVersion   uint32

	Name         string
	Cmdline      string
	ID           [IDSize]byte
	ExtraCmdline string
}

func (h *HeaderV0) Version() uint32 { return 0 }
func (h *HeaderV0) Size() int       { return sizeV0 }

func (h *HeaderV0) encode() []byte {
	return h.appendFields(make([]byte, 0, sizeV0), 0)
}

func (h *HeaderV0) appendFields(b []byte, version uint32) []byte {
	b = append(b, Magic...)
	for _, v := range []uint32{
		h.KernelSize, h.KernelAddr,
		h.RamdiskSize, h.RamdiskAddr,
		h.SecondSize, h.SecondAddr,
		h.TagsAddr, h.PageSize,
		version, h.OsVersion,
	} {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	b = appendString(b, h.Name, NameSize)
	b = appendString(b, h.Cmdline, ArgsSize)
	b = append(b, h.ID[:]...)
	return appendString(b, h.ExtraCmdline, ExtraSize)
}

// HeaderV1 adds the recovery DTBO location and the header size.
type HeaderV1 struct {
	HeaderV0
	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	HeaderSize         uint32
}

func (h *HeaderV1) Version() uint32 { return 1 }
func (h *HeaderV1) Size() int       { return sizeV1 }

func (h *HeaderV1) encode() []byte {
	return h.appendV1(make([]byte, 0, sizeV1), 1)
}

func (h *HeaderV1) appendV1(b []byte, version uint32) []byte {
	b = h.appendFields(b, version)
	b = binary.LittleEndian.AppendUint32(b, h.RecoveryDtboSize)
	b = binary.LittleEndian.AppendUint64(b, h.RecoveryDtboOffset)
	return binary.LittleEndian.AppendUint32(b, h.HeaderSize)
}

// HeaderV2 adds a device tree blob.
type HeaderV2 struct {
	HeaderV1
	DtbSize uint32
	DtbAddr uint64
}

func (h *HeaderV2) Version() uint32 { return 2 }
func (h *HeaderV2) Size() int       { return sizeV2 }

func (h *HeaderV2) encode() []byte {
	b := h.appendV1(make([]byte, 0, sizeV2), 2)
	b = binary.LittleEndian.AppendUint32(b, h.DtbSize)
	return binary.LittleEndian.AppendUint64(b, h.DtbAddr)
}

// HeaderV3 is the fixed 4096-byte page layout without load addresses.
type HeaderV3 struct {
	KernelSize  uint32
	RamdiskSize uint32
	OsVersion   uint32
	HeaderSize  uint32
	Cmdline     string
}

func (h *HeaderV3) Version() uint32 { return 3 }
func (h *HeaderV3) Size() int       { return sizeV3 }

func (h *HeaderV3) encode() []byte {
	return h.appendV3(make([]byte, 0, sizeV3), 3)
}

func (h *HeaderV3) appendV3(b []byte, version uint32) []byte {
	b = append(b, Magic...)
	b = binary.LittleEndian.AppendUint32(b, h.KernelSize)
	b = binary.LittleEndian.AppendUint32(b, h.RamdiskSize)
	b = binary.LittleEndian.AppendUint32(b, h.OsVersion)
	b = binary.LittleEndian.AppendUint32(b, h.HeaderSize)
	b = append(b, make([]byte, 16)...)
	b = binary.LittleEndian.AppendUint32(b, version)
	return appendString(b, h.Cmdline, V3ArgsSize)
}

// HeaderV4 adds the boot signature size.
type HeaderV4 struct {
	HeaderV3
	SignatureSize uint32
}

func (h *HeaderV4) Version() uint32 { return 4 }
func (h *HeaderV4) Size() int       { return sizeV4 }

func (h *HeaderV4) encode() []byte {
	b := h.appendV3(make([]byte, 0, sizeV4), 4)
	return binary.LittleEndian.AppendUint32(b, h.SignatureSize)
}

// Encode returns the header bytes, without page padding.
func Encode(h Header) []byte {
	return h.encode()
}

// ParseHeader decodes the header at the start of b into the variant named
// by its version field.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < VersionOffset+4 || string(b[:MagicSize]) != Magic {
		return nil, ErrNotBootImage
	}

	version := binary.LittleEndian.Uint32(b[VersionOffset:])
	need := map[uint32]int{0: sizeV0, 1: sizeV1, 2: sizeV2, 3: sizeV3, 4: sizeV4}[version]
	if need == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if len(b) < need {
		return nil, fmt.Errorf("%w: version %d header needs %d bytes, have %d", ErrTruncated, version, need, len(b))
	}

	d := decoder{b: b, off: MagicSize}
	switch version {
	case 0, 1, 2:
		var v0 HeaderV0
		v0.KernelSize, v0.KernelAddr = d.u32(), d.u32()
		v0.RamdiskSize, v0.RamdiskAddr = d.u32(), d.u32()
		v0.SecondSize, v0.SecondAddr = d.u32(), d.u32()
		v0.TagsAddr, v0.PageSize = d.u32(), d.u32()
		d.u32()
		v0.OsVersion = d.u32()
		v0.Name = d.str(NameSize)
		v0.Cmdline = d.str(ArgsSize)
		copy(v0.ID[:], d.bytes(IDSize))
		v0.ExtraCmdline = d.str(ExtraSize)
		if version == 0 {
			return &v0, nil
		}

		v1 := HeaderV1{HeaderV0: v0}
		v1.RecoveryDtboSize, v1.RecoveryDtboOffset, v1.HeaderSize = d.u32(), d.u64(), d.u32()
		if version == 1 {
			return &v1, nil
		}
		v2 := HeaderV2{HeaderV1: v1}
		v2.DtbSize, v2.DtbAddr = d.u32(), d.u64()
		return &v2, nil

	default:
		var v3 HeaderV3
		v3.KernelSize, v3.RamdiskSize = d.u32(), d.u32()
		v3.OsVersion, v3.HeaderSize = d.u32(), d.u32()
		d.bytes(16)
		d.u32()
		v3.Cmdline = d.str(V3ArgsSize)
		if version == 3 {
			return &v3, nil
		}
		return &HeaderV4{HeaderV3: v3, SignatureSize: d.u32()}, nil
	}
}

type decoder struct {
	b   []byte
	off int
}

func (d *decoder) bytes(n int) []byte {
	v := d.b[d.off : d.off+n]
	d.off += n
	return v
}

func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.bytes(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.bytes(8)) }

func (d *decoder) str(n int) string {
	b := d.bytes(n)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// appendString appends s NUL-padded to n bytes. Callers check the length.
func appendString(b []byte, s string, n int) []byte {
	b = append(b, s...)
	return append(b, make([]byte, n-len(s))...)
}
