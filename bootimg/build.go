package bootimg

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"
)

// Default load layout, relative to Params.Base.
const (
	DefaultBase     = 0x10000000
	DefaultPageSize = 2048

	KernelOffset  = 0x00008000
	RamdiskOffset = 0x01000000
	SecondOffset  = 0x00F00000
	TagsOffset    = 0x00000100
	DtbOffset     = 0x01100000
)

// Params describes an image to build.
type Params struct {
	// Version selects the header layout, 0 to 4
	Version uint32

	Kernel  []byte
	Ramdisk []byte
	Second  []byte
	Dtb     []byte

	Cmdline string
	Name    string

	// Base is the load base for versions 0 to 2; zero means DefaultBase
	Base uint32

	// PageSize applies to versions 0 to 2; zero means DefaultPageSize
	PageSize uint32

	OsVersion uint32
}

// Image is a decoded boot image.
type Image struct {
	Header  Header
	Kernel  []byte
	Ramdisk []byte
	Second  []byte
	Dtb     []byte
}

// Build assembles a boot image. Every section starts on a page boundary.
func Build(p Params) ([]byte, error) {
	if len(p.Kernel) == 0 {
		return nil, eMsg(fmt.Errorf("kernel is empty"), "building boot image")
	}

	switch p.Version {
	case 0, 1, 2:
		return buildLegacy(p)
	case 3, 4:
		return buildV3(p)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
}

func buildLegacy(p Params) ([]byte, error) {
	base, page := p.Base, p.PageSize
	if base == 0 {
		base = DefaultBase
	}
	if page == 0 {
		page = DefaultPageSize
	}
	if page&(page-1) != 0 {
		return nil, eMsg(fmt.Errorf("page size %d is not a power of two", page), "building boot image")
	}
	if len(p.Name) > NameSize {
		return nil, eMsg(fmt.Errorf("%w: name is %d bytes, limit %d", ErrFieldTooLong, len(p.Name), NameSize), "building boot image")
	}
	if len(p.Cmdline) > ArgsSize+ExtraSize {
		return nil, eMsg(fmt.Errorf("%w: cmdline is %d bytes, limit %d", ErrFieldTooLong, len(p.Cmdline), ArgsSize+ExtraSize), "building boot image")
	}
	if p.Version < 2 && len(p.Dtb) > 0 {
		return nil, eMsg(fmt.Errorf("device tree needs header version 2"), "building boot image")
	}

	v0 := HeaderV0{
		KernelSize:  uint32(len(p.Kernel)),
		KernelAddr:  base + KernelOffset,
		RamdiskSize: uint32(len(p.Ramdisk)),
		RamdiskAddr: base + RamdiskOffset,
		SecondSize:  uint32(len(p.Second)),
		SecondAddr:  base + SecondOffset,
		TagsAddr:    base + TagsOffset,
		PageSize:    page,
		OsVersion:   p.OsVersion,
		Name:        p.Name,
	}
	v0.Cmdline, v0.ExtraCmdline = splitCmdline(p.Cmdline)
	binary.LittleEndian.PutUint64(v0.ID[:], checksum(p.Kernel, p.Ramdisk, p.Second, p.Dtb))

	var hdr Header = &v0
	switch p.Version {
	case 1:
		hdr = &HeaderV1{HeaderV0: v0, HeaderSize: sizeV1}
	case 2:
		hdr = &HeaderV2{
			HeaderV1: HeaderV1{HeaderV0: v0, HeaderSize: sizeV2},
			DtbSize:  uint32(len(p.Dtb)),
			DtbAddr:  uint64(base) + DtbOffset,
		}
	}

	return assemble(hdr, int(page), p.Kernel, p.Ramdisk, p.Second, p.Dtb), nil
}

func buildV3(p Params) ([]byte, error) {
	if len(p.Second) > 0 || len(p.Dtb) > 0 {
		return nil, eMsg(fmt.Errorf("header version %d has no second stage or device tree", p.Version), "building boot image")
	}
	if len(p.Cmdline) > V3ArgsSize {
		return nil, eMsg(fmt.Errorf("%w: cmdline is %d bytes, limit %d", ErrFieldTooLong, len(p.Cmdline), V3ArgsSize), "building boot image")
	}

	v3 := HeaderV3{
		KernelSize:  uint32(len(p.Kernel)),
		RamdiskSize: uint32(len(p.Ramdisk)),
		OsVersion:   p.OsVersion,
		HeaderSize:  V3PageSize,
		Cmdline:     p.Cmdline,
	}

	var hdr Header = &v3
	if p.Version == 4 {
		hdr = &HeaderV4{HeaderV3: v3}
	}
	return assemble(hdr, V3PageSize, p.Kernel, p.Ramdisk), nil
}

func assemble(hdr Header, page int, sections ...[]byte) []byte {
	size := padded(hdr.Size(), page)
	for _, s := range sections {
		size += padded(len(s), page)
	}

	out := make([]byte, 0, size)
	out = appendPadded(out, hdr.encode(), page)
	for _, s := range sections {
		out = appendPadded(out, s, page)
	}
	return out
}

// Parse decodes a complete boot image.
func Parse(b []byte) (*Image, error) {
	hdr, err := ParseHeader(b)
	if err != nil {
		return nil, eMsg(err, "reading header")
	}

	img := &Image{Header: hdr}
	r := sectionReader{b: b}

	switch h := hdr.(type) {
	case *HeaderV3:
		err = r.read(V3PageSize, h.Size(), []section{{&img.Kernel, h.KernelSize, "kernel"}, {&img.Ramdisk, h.RamdiskSize, "ramdisk"}})
	case *HeaderV4:
		err = r.read(V3PageSize, h.Size(), []section{{&img.Kernel, h.KernelSize, "kernel"}, {&img.Ramdisk, h.RamdiskSize, "ramdisk"}})
	default:
		v0, dtbo, dtb := legacyFields(hdr)
		if v0.PageSize == 0 || v0.PageSize&(v0.PageSize-1) != 0 {
			return nil, eMsg(fmt.Errorf("invalid page size %d", v0.PageSize), "reading header")
		}
		var recovery []byte
		err = r.read(int(v0.PageSize), hdr.Size(), []section{
			{&img.Kernel, v0.KernelSize, "kernel"},
			{&img.Ramdisk, v0.RamdiskSize, "ramdisk"},
			{&img.Second, v0.SecondSize, "second stage"},
			{&recovery, dtbo, "recovery dtbo"},
			{&img.Dtb, dtb, "device tree"},
		})
	}
	if err != nil {
		return nil, err
	}

	return img, nil
}

func legacyFields(hdr Header) (v0 *HeaderV0, dtboSize, dtbSize uint32) {
	switch h := hdr.(type) {
	case *HeaderV1:
		return &h.HeaderV0, h.RecoveryDtboSize, 0
	case *HeaderV2:
		return &h.HeaderV0, h.RecoveryDtboSize, h.DtbSize
	default:
		return hdr.(*HeaderV0), 0, 0
	}
}

type section struct {
	dst  *[]byte
	size uint32
	name string
}

type sectionReader struct {
	b []byte
}

func (r sectionReader) read(page, hdrSize int, sections []section) error {
	off := padded(hdrSize, page)
	for _, s := range sections {
		end := off + int(s.size)
		if end > len(r.b) {
			return eMsg(fmt.Errorf("%w: %s needs %d bytes at %d", ErrTruncated, s.name, s.size, off), "reading "+s.name)
		}
		if s.size > 0 {
			*s.dst = r.b[off:end]
		}
		off += padded(int(s.size), page)
	}
	return nil
}

// checksum is stored in the ID field of versions 0 to 2.
func checksum(sections ...[]byte) uint64 {
	h := xxhash.New()
	for _, s := range sections {
		_, _ = h.Write(s)
	}
	return h.Sum64()
}

func splitCmdline(s string) (string, string) {
	if len(s) <= ArgsSize {
		return s, ""
	}
	return s[:ArgsSize], s[ArgsSize:]
}

func padded(n, page int) int {
	return (n + page - 1) / page * page
}

func appendPadded(b, data []byte, page int) []byte {
	b = append(b, data...)
	return append(b, make([]byte, padded(len(data), page)-len(data))...)
}
