package sparse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Kind classifies an image file before it is opened for flashing.
type Kind int

const (
	// KindRaw is a plain partition image
	KindRaw Kind = iota

	// KindSparse is a valid sparse image
	KindSparse

	// KindMalformed carries the sparse magic but an unusable header
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindSparse:
		return "sparse"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Chunk is one run of output blocks. RAW chunks reference their payload in
// the source they were read from instead of holding it in memory.
type Chunk struct {
	// Type is one of the ChunkType constants
	Type uint16

	// Block is the first output block covered by the chunk
	Block uint32

	// Blocks is the number of output blocks covered
	Blocks uint32

	// Fill is the repeating pattern of a FILL chunk
	Fill uint32

	src    io.ReaderAt
	offset int64
}

// PayloadSize returns the number of payload bytes following the chunk header.
func (c Chunk) PayloadSize(blockSize uint32) int64 {
	switch c.Type {
	case ChunkTypeRaw:
		return int64(c.Blocks) * int64(blockSize)
	case ChunkTypeFill:
		return FillPatternSize
	default:
		return 0
	}
}

// EncodedSize returns the chunk's size on the wire, header included.
func (c Chunk) EncodedSize(blockSize uint32) int64 {
	return ChunkHeaderSize + c.PayloadSize(blockSize)
}

func (c Chunk) header(blockSize uint32) ChunkHeader {
	return ChunkHeader{
		Type:      c.Type,
		ChunkSize: c.Blocks,
		TotalSize: uint32(c.EncodedSize(blockSize)),
	}
}

// File is a sparse image: a header and chunks in block order whose block
// counts sum to Header.TotalBlocks.
type File struct {
	Header Header
	Chunks []Chunk

	closers []io.Closer
}

// NewFile returns an empty image of totalBlocks blocks to be filled with the
// Add*Chunk methods.
func NewFile(blockSize, totalBlocks uint32) (*File, error) {
	if blockSize == 0 || blockSize%4 != 0 {
		return nil, fmt.Errorf("%w: block size %d is not a positive multiple of 4", ErrInvalidHeader, blockSize)
	}

	return &File{Header: newHeader(blockSize, totalBlocks)}, nil
}

// CoveredBlocks returns the number of blocks described by the chunks so far.
func (f *File) CoveredBlocks() uint32 {
	if len(f.Chunks) == 0 {
		return 0
	}
	last := f.Chunks[len(f.Chunks)-1]
	return last.Block + last.Blocks
}

// Size returns the number of bytes the complete image occupies when written.
func (f *File) Size() int64 {
	size := int64(HeaderSize)
	for _, c := range f.Chunks {
		size += c.EncodedSize(f.Header.BlockSize)
	}
	return size
}

// AddRawChunk appends a RAW chunk whose payload is read from src at offset.
func (f *File) AddRawChunk(src io.ReaderAt, offset int64, blocks uint32) error {
	if src == nil {
		return fmt.Errorf("%w: raw chunk without a data source", ErrInvalidChunk)
	}
	return f.appendChunk(Chunk{Type: ChunkTypeRaw, Blocks: blocks, src: src, offset: offset})
}

// AddFillChunk appends a FILL chunk repeating value over blocks.
func (f *File) AddFillChunk(value uint32, blocks uint32) error {
	return f.appendChunk(Chunk{Type: ChunkTypeFill, Blocks: blocks, Fill: value})
}

// AddDontCareChunk appends a DONT_CARE chunk skipping blocks.
func (f *File) AddDontCareChunk(blocks uint32) error {
	return f.appendChunk(Chunk{Type: ChunkTypeDontCare, Blocks: blocks})
}

func (f *File) appendChunk(c Chunk) error {
	if c.Blocks == 0 {
		return fmt.Errorf("%w: %s chunk covers no blocks", ErrInvalidChunk, ChunkTypeName(c.Type))
	}

	start := f.CoveredBlocks()
	if uint64(start)+uint64(c.Blocks) > uint64(f.Header.TotalBlocks) {
		return fmt.Errorf("%w: %d blocks at block %d overflow an image of %d blocks",
			ErrInvalidChunk, c.Blocks, start, f.Header.TotalBlocks)
	}
	if c.EncodedSize(f.Header.BlockSize) > math.MaxUint32 {
		return fmt.Errorf("%w: %s chunk of %d blocks does not fit a 32-bit size field",
			ErrInvalidChunk, ChunkTypeName(c.Type), c.Blocks)
	}

	c.Block = start
	f.Chunks = append(f.Chunks, c)
	f.Header.TotalChunks = uint32(len(f.Chunks))
	return nil
}

// AppendBlocks appends the part of src covering blocks [start, start+count)
// to f. Chunks straddling the range are trimmed; RAW chunks keep reading
// from src's sources. Both images must use the same block size.
func (f *File) AppendBlocks(src *File, start, count uint32) error {
	if src.Header.BlockSize != f.Header.BlockSize {
		return fmt.Errorf("%w: block size %d does not match %d", ErrInvalidChunk, src.Header.BlockSize, f.Header.BlockSize)
	}

	end := uint64(start) + uint64(count)
	if end > uint64(src.Header.TotalBlocks) {
		return fmt.Errorf("%w: blocks [%d, %d) past end of %d-block image", ErrTruncated, start, end, src.Header.TotalBlocks)
	}

	bs := int64(src.Header.BlockSize)
	for _, c := range src.Chunks {
		cs, ce := uint64(c.Block), uint64(c.Block)+uint64(c.Blocks)
		lo, hi := max(cs, uint64(start)), min(ce, end)
		if lo >= hi {
			continue
		}

		part := c
		part.Blocks = uint32(hi - lo)
		if c.Type == ChunkTypeRaw {
			part.offset += int64(lo-cs) * bs
		}
		if err := f.appendChunk(part); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that the chunks cover exactly Header.TotalBlocks.
func (f *File) Validate() error {
	if !f.Header.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidHeader, f.Header.invalidReason())
	}
	if covered := f.CoveredBlocks(); covered != f.Header.TotalBlocks {
		return fmt.Errorf("%w: chunks cover %d of %d blocks", ErrInvalidChunk, covered, f.Header.TotalBlocks)
	}
	return nil
}

// Close releases files opened by FromImageFile or FromRawFile. Segments
// returned by Resparse share their parent's sources; close the parent once
// all segments have been exported.
func (f *File) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	f.closers = nil
	return errors.Join(errs...)
}

// PeekHeader reads and validates only the header of the image at path.
func PeekHeader(path string) (Header, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = fh.Close() }()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(fh, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: %s is shorter than a sparse header", ErrTruncated, path)
		}
		return Header{}, fmt.Errorf("read header: %w", err)
	}

	return ParseHeader(buf)
}

// Classify inspects the first bytes of the file at path.
func Classify(path string) (Kind, error) {
	fh, err := os.Open(path)
	if err != nil {
		return KindMalformed, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = fh.Close() }()

	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(fh, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return KindMalformed, fmt.Errorf("read header: %w", err)
	}

	return ClassifyBytes(buf[:n]), nil
}

// ClassifyBytes classifies an image from its leading bytes.
func ClassifyBytes(b []byte) Kind {
	if len(b) < 4 || binary.LittleEndian.Uint32(b[0:4]) != HeaderMagic {
		return KindRaw
	}
	if len(b) < HeaderSize || !decodeHeader(b).IsValid() {
		return KindMalformed
	}
	return KindSparse
}

// FromImageFile parses the sparse image at path. The file stays open until
// Close is called.
func FromImageFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}

	f, err := FromReaderAt(fh, st.Size())
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	f.closers = append(f.closers, fh)
	return f, nil
}

// FromReaderAt parses a sparse image of size bytes. RAW payloads keep
// referencing r. CRC32 chunks are verified for size and dropped: they only
// describe the image they were read from.
func FromReaderAt(r io.ReaderAt, size int64) (*File, error) {
	buf := make([]byte, HeaderSize)
	if err := readFullAt(r, buf, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	hdr, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.FileHeaderSize < HeaderSize || hdr.ChunkHeaderSize < ChunkHeaderSize {
		return nil, fmt.Errorf("%w: header sizes %d/%d below minimum %d/%d",
			ErrInvalidHeader, hdr.FileHeaderSize, hdr.ChunkHeaderSize, HeaderSize, ChunkHeaderSize)
	}

	blockSize := int64(hdr.BlockSize)
	chunkHdrSize := int64(hdr.ChunkHeaderSize)
	chunkBuf := make([]byte, ChunkHeaderSize)
	fillBuf := make([]byte, FillPatternSize)

	f := &File{Header: hdr}
	off := int64(hdr.FileHeaderSize)
	var block uint64

	for i := uint32(0); i < hdr.TotalChunks; i++ {
		if err := readFullAt(r, chunkBuf, off); err != nil {
			return nil, &ChunkError{Index: i, Offset: off, Err: err}
		}
		ch, _ := ParseChunkHeader(chunkBuf)

		dataOff := off + chunkHdrSize
		payload := int64(ch.TotalSize) - chunkHdrSize
		if payload < 0 {
			return nil, &ChunkError{Index: i, Offset: off,
				Err: fmt.Errorf("%w: total size %d smaller than chunk header", ErrInvalidChunk, ch.TotalSize)}
		}
		if dataOff+payload > size {
			return nil, &ChunkError{Index: i, Offset: off,
				Err: fmt.Errorf("%w: payload of %d bytes runs past end of image", ErrTruncated, payload)}
		}

		c := Chunk{Type: ch.Type, Block: uint32(block), Blocks: ch.ChunkSize}
		switch ch.Type {
		case ChunkTypeRaw:
			if payload != int64(ch.ChunkSize)*blockSize {
				return nil, &ChunkError{Index: i, Offset: off,
					Err: fmt.Errorf("%w: RAW payload %d bytes for %d blocks", ErrInvalidChunk, payload, ch.ChunkSize)}
			}
			c.src, c.offset = r, dataOff
		case ChunkTypeFill:
			if payload != FillPatternSize {
				return nil, &ChunkError{Index: i, Offset: off,
					Err: fmt.Errorf("%w: FILL payload %d bytes", ErrInvalidChunk, payload)}
			}
			if err := readFullAt(r, fillBuf, dataOff); err != nil {
				return nil, &ChunkError{Index: i, Offset: off, Err: err}
			}
			c.Fill = binary.LittleEndian.Uint32(fillBuf)
		case ChunkTypeDontCare:
			if payload != 0 {
				return nil, &ChunkError{Index: i, Offset: off,
					Err: fmt.Errorf("%w: DONT_CARE payload %d bytes", ErrInvalidChunk, payload)}
			}
		case ChunkTypeCRC32:
			if ch.ChunkSize != 0 || (payload != 0 && payload != CRCPayloadSize) {
				return nil, &ChunkError{Index: i, Offset: off,
					Err: fmt.Errorf("%w: CRC32 chunk with %d blocks and %d payload bytes", ErrInvalidChunk, ch.ChunkSize, payload)}
			}
			off = dataOff + payload
			continue
		default:
			return nil, &ChunkError{Index: i, Offset: off,
				Err: fmt.Errorf("%w: %s", ErrInvalidChunk, ChunkTypeName(ch.Type))}
		}

		if block+uint64(ch.ChunkSize) > uint64(hdr.TotalBlocks) {
			return nil, &ChunkError{Index: i, Offset: off,
				Err: fmt.Errorf("%w: chunk ends at block %d past total %d", ErrInvalidChunk, block+uint64(ch.ChunkSize), hdr.TotalBlocks)}
		}

		if ch.ChunkSize > 0 {
			f.Chunks = append(f.Chunks, c)
		}
		block += uint64(ch.ChunkSize)
		off = dataOff + payload
	}

	if block != uint64(hdr.TotalBlocks) {
		return nil, fmt.Errorf("%w: chunks cover %d of %d blocks", ErrInvalidChunk, block, hdr.TotalBlocks)
	}

	f.Header.FileHeaderSize = HeaderSize
	f.Header.ChunkHeaderSize = ChunkHeaderSize
	f.Header.TotalChunks = uint32(len(f.Chunks))
	return f, nil
}

// FromRawFile wraps the unsparsed image at path as a run of RAW chunks of at
// most maxChunkBytes each, so an image larger than the transfer ceiling can
// be resparsed like any other. The final partial block, if any, is padded
// with zeros.
func FromRawFile(path string, blockSize uint32, maxChunkBytes int64) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}

	f, err := fromRaw(fh, st.Size(), blockSize, maxChunkBytes)
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("wrap %s: %w", path, err)
	}

	f.closers = append(f.closers, fh)
	return f, nil
}

func fromRaw(r io.ReaderAt, size int64, blockSize uint32, maxChunkBytes int64) (*File, error) {
	if blockSize == 0 || blockSize%4 != 0 {
		return nil, fmt.Errorf("%w: block size %d is not a positive multiple of 4", ErrInvalidHeader, blockSize)
	}

	bs := int64(blockSize)
	totalBlocks := (size + bs - 1) / bs
	if totalBlocks > math.MaxUint32 {
		return nil, fmt.Errorf("image of %d bytes exceeds %d blocks", size, uint32(math.MaxUint32))
	}

	f, err := NewFile(blockSize, uint32(totalBlocks))
	if err != nil {
		return nil, err
	}

	chunkBlocks := (maxChunkBytes - ChunkHeaderSize) / bs
	if limit := (math.MaxUint32 - ChunkHeaderSize) / bs; chunkBlocks > limit {
		chunkBlocks = limit
	}
	if chunkBlocks < 1 {
		chunkBlocks = 1
	}

	src := &zeroPadReaderAt{r: r, size: size}
	for b := int64(0); b < totalBlocks; b += chunkBlocks {
		n := min(chunkBlocks, totalBlocks-b)
		if err := f.AddRawChunk(src, b*bs, uint32(n)); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// readFullAt fills buf from r at off, reporting short reads as ErrTruncated.
func readFullAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: wanted %d bytes at offset %d, got %d", ErrTruncated, len(buf), off, n)
	}
	return err
}

// zeroPadReaderAt serves zeros past the end of the underlying data so the
// last partial block of a raw image reads as a full block.
type zeroPadReaderAt struct {
	r    io.ReaderAt
	size int64
}

func (z *zeroPadReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	if off < z.size {
		want := p
		if rem := z.size - off; int64(len(want)) > rem {
			want = want[:rem]
		}
		m, err := z.r.ReadAt(want, off)
		n = m
		if m < len(want) {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		}
	}

	clear(p[n:])
	return len(p), nil
}
