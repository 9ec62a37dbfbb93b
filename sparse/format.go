package sparse

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Sparse format constants.
const (
	// HeaderMagic identifies a sparse image (0xED26FF3A)
	HeaderMagic = 0xED26FF3A

	// CurrentMajorVersion is the only major version this package understands
	CurrentMajorVersion = 1

	// CurrentMinorVersion is the minor version written by this package
	CurrentMinorVersion = 0

	// HeaderSize is the size of the file header in bytes
	HeaderSize = 28

	// ChunkHeaderSize is the size of a chunk header in bytes
	ChunkHeaderSize = 12

	// FillPatternSize is the payload size of a FILL chunk
	FillPatternSize = 4

	// CRCPayloadSize is the payload size of a CRC32 chunk written by this package
	CRCPayloadSize = 4

	// DefaultBlockSize is the block size used when wrapping raw images
	DefaultBlockSize = 4096
)

// Chunk types.
const (
	// ChunkTypeRaw carries literal block data
	ChunkTypeRaw uint16 = 0xCAC1

	// ChunkTypeFill repeats a 4-byte pattern over its blocks
	ChunkTypeFill uint16 = 0xCAC2

	// ChunkTypeDontCare skips its blocks
	ChunkTypeDontCare uint16 = 0xCAC3

	// ChunkTypeCRC32 carries a running CRC32 and covers no blocks
	ChunkTypeCRC32 uint16 = 0xCAC4
)

// Header is the 28-byte sparse file header.
type Header struct {
	Magic           uint32
	MajorVersion    uint16
	MinorVersion    uint16
	FileHeaderSize  uint16
	ChunkHeaderSize uint16
	BlockSize       uint32
	TotalBlocks     uint32
	TotalChunks     uint32
	ImageChecksum   uint32
}

// IsValid reports whether the header can be used: the magic must match,
// the major version must be 1 and the block size a positive multiple of 4.
func (h Header) IsValid() bool {
	return h.invalidReason() == ""
}

func (h Header) invalidReason() string {
	var reasons []string
	if h.Magic != HeaderMagic {
		reasons = append(reasons, fmt.Sprintf("bad magic 0x%08X", h.Magic))
	}
	if h.MajorVersion != CurrentMajorVersion {
		reasons = append(reasons, fmt.Sprintf("unsupported major version %d", h.MajorVersion))
	}
	if h.BlockSize == 0 || h.BlockSize%4 != 0 {
		reasons = append(reasons, fmt.Sprintf("block size %d is not a positive multiple of 4", h.BlockSize))
	}
	return strings.Join(reasons, ", ")
}

// Bytes encodes the header in its on-disk form.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.MajorVersion)
	binary.LittleEndian.PutUint16(b[6:8], h.MinorVersion)
	binary.LittleEndian.PutUint16(b[8:10], h.FileHeaderSize)
	binary.LittleEndian.PutUint16(b[10:12], h.ChunkHeaderSize)
	binary.LittleEndian.PutUint32(b[12:16], h.BlockSize)
	binary.LittleEndian.PutUint32(b[16:20], h.TotalBlocks)
	binary.LittleEndian.PutUint32(b[20:24], h.TotalChunks)
	binary.LittleEndian.PutUint32(b[24:28], h.ImageChecksum)
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:           binary.LittleEndian.Uint32(b[0:4]),
		MajorVersion:    binary.LittleEndian.Uint16(b[4:6]),
		MinorVersion:    binary.LittleEndian.Uint16(b[6:8]),
		FileHeaderSize:  binary.LittleEndian.Uint16(b[8:10]),
		ChunkHeaderSize: binary.LittleEndian.Uint16(b[10:12]),
		BlockSize:       binary.LittleEndian.Uint32(b[12:16]),
		TotalBlocks:     binary.LittleEndian.Uint32(b[16:20]),
		TotalChunks:     binary.LittleEndian.Uint32(b[20:24]),
		ImageChecksum:   binary.LittleEndian.Uint32(b[24:28]),
	}
}

// ParseHeader decodes and validates a sparse file header.
// Headers failing IsValid are rejected with ErrInvalidHeader.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, HeaderSize, len(b))
	}

	h := decodeHeader(b)
	if reason := h.invalidReason(); reason != "" {
		return Header{}, fmt.Errorf("%w: %s", ErrInvalidHeader, reason)
	}

	return h, nil
}

// newHeader returns a valid header for a freshly built image.
func newHeader(blockSize, totalBlocks uint32) Header {
	return Header{
		Magic:           HeaderMagic,
		MajorVersion:    CurrentMajorVersion,
		MinorVersion:    CurrentMinorVersion,
		FileHeaderSize:  HeaderSize,
		ChunkHeaderSize: ChunkHeaderSize,
		BlockSize:       blockSize,
		TotalBlocks:     totalBlocks,
	}
}

// ChunkHeader is the 12-byte header preceding every chunk payload.
type ChunkHeader struct {
	Type      uint16
	Reserved  uint16
	ChunkSize uint32
	TotalSize uint32
}

// Bytes encodes the chunk header in its on-disk form.
func (c ChunkHeader) Bytes() []byte {
	b := make([]byte, ChunkHeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], c.Type)
	binary.LittleEndian.PutUint16(b[2:4], c.Reserved)
	binary.LittleEndian.PutUint32(b[4:8], c.ChunkSize)
	binary.LittleEndian.PutUint32(b[8:12], c.TotalSize)
	return b
}

// ParseChunkHeader decodes a chunk header. It does not check the header
// against a block size; see File parsing for that.
func ParseChunkHeader(b []byte) (ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return ChunkHeader{}, fmt.Errorf("%w: chunk header needs %d bytes, got %d", ErrTruncated, ChunkHeaderSize, len(b))
	}

	return ChunkHeader{
		Type:      binary.LittleEndian.Uint16(b[0:2]),
		Reserved:  binary.LittleEndian.Uint16(b[2:4]),
		ChunkSize: binary.LittleEndian.Uint32(b[4:8]),
		TotalSize: binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// ChunkTypeName returns a human-readable name for a chunk type.
func ChunkTypeName(t uint16) string {
	switch t {
	case ChunkTypeRaw:
		return "RAW"
	case ChunkTypeFill:
		return "FILL"
	case ChunkTypeDontCare:
		return "DONT_CARE"
	case ChunkTypeCRC32:
		return "CRC32"
	default:
		return fmt.Sprintf("unknown chunk type 0x%04X", t)
	}
}
