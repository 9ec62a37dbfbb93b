package sparse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// span returns chunks with every block not covered by them expressed as
// DONT_CARE, so the result addresses [0, totalBlocks) exactly. Adjacent
// DONT_CARE runs are merged.
func span(chunks []Chunk, totalBlocks uint32) []Chunk {
	out := make([]Chunk, 0, len(chunks)+2)

	skip := func(from, to uint32) {
		if to <= from {
			return
		}
		if n := len(out); n > 0 && out[n-1].Type == ChunkTypeDontCare {
			out[n-1].Blocks += to - from
			return
		}
		out = append(out, Chunk{Type: ChunkTypeDontCare, Block: from, Blocks: to - from})
	}

	var next uint32
	for _, c := range chunks {
		skip(next, c.Block)
		if c.Type == ChunkTypeDontCare {
			skip(c.Block, c.Block+c.Blocks)
		} else {
			out = append(out, c)
		}
		next = c.Block + c.Blocks
	}
	skip(next, totalBlocks)

	return out
}

// ExportStream returns a complete sparse image for chunks [begin, end) and
// its length in bytes. Blocks outside the range are emitted as DONT_CARE so
// the stream always addresses the whole image. When useCRC is set a trailing
// CRC32 chunk carrying the checksum of the expanded image is appended, with
// DONT_CARE blocks counted as zeros; the checksum is computed while the
// stream is read.
//
// RAW payloads are read from their sources lazily. A source that ends before
// a payload does fails the read with ErrTruncated.
func (f *File) ExportStream(begin, end int, useCRC bool) (io.Reader, int64, error) {
	if begin < 0 || end > len(f.Chunks) || begin > end {
		return nil, 0, fmt.Errorf("chunk range [%d, %d) out of bounds for %d chunks", begin, end, len(f.Chunks))
	}

	bs := f.Header.BlockSize
	chunks := span(f.Chunks[begin:end], f.Header.TotalBlocks)

	hdr := newHeader(bs, f.Header.TotalBlocks)
	hdr.TotalChunks = uint32(len(chunks))
	if useCRC {
		hdr.TotalChunks++
	}

	var crc hash.Hash32
	if useCRC {
		crc = crc32.NewIEEE()
	}

	readers := []io.Reader{bytes.NewReader(hdr.Bytes())}
	size := int64(HeaderSize)

	for _, c := range chunks {
		readers = append(readers, bytes.NewReader(c.header(bs).Bytes()))
		size += c.EncodedSize(bs)

		switch c.Type {
		case ChunkTypeRaw:
			n := c.PayloadSize(bs)
			var r io.Reader = &exactReader{r: io.NewSectionReader(c.src, c.offset, n), left: n}
			if crc != nil {
				r = io.TeeReader(r, crc)
			}
			readers = append(readers, r)

		case ChunkTypeFill:
			pattern := make([]byte, FillPatternSize)
			binary.LittleEndian.PutUint32(pattern, c.Fill)
			readers = append(readers, bytes.NewReader(pattern))
			if crc != nil {
				fill, blocks := c.Fill, c.Blocks
				readers = append(readers, hookReader(func() error {
					return hashFill(crc, fill, int64(blocks)*int64(bs))
				}))
			}

		case ChunkTypeDontCare:
			if crc != nil {
				blocks := c.Blocks
				readers = append(readers, hookReader(func() error {
					return hashFill(crc, 0, int64(blocks)*int64(bs))
				}))
			}
		}
	}

	if crc != nil {
		readers = append(readers, &lazyReader{fn: func() []byte {
			ch := ChunkHeader{Type: ChunkTypeCRC32, TotalSize: ChunkHeaderSize + CRCPayloadSize}
			b := append(ch.Bytes(), 0, 0, 0, 0)
			binary.LittleEndian.PutUint32(b[ChunkHeaderSize:], crc.Sum32())
			return b
		}})
		size += ChunkHeaderSize + CRCPayloadSize
	}

	return io.MultiReader(readers...), size, nil
}

// WriteTo writes the complete image to w.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	r, _, err := f.ExportStream(0, len(f.Chunks), false)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, r)
}

// WriteRawTo writes the expanded partition content to w. DONT_CARE blocks
// are written as zeros.
func (f *File) WriteRawTo(w io.Writer) (int64, error) {
	bs := int64(f.Header.BlockSize)
	zero := make([]byte, bs)
	var written int64

	for i, c := range f.Chunks {
		n := int64(c.Blocks) * bs
		var err error
		var m int64

		switch c.Type {
		case ChunkTypeRaw:
			m, err = io.Copy(w, &exactReader{r: io.NewSectionReader(c.src, c.offset, n), left: n})
		case ChunkTypeFill:
			block := make([]byte, bs)
			for j := int64(0); j < bs; j += FillPatternSize {
				binary.LittleEndian.PutUint32(block[j:], c.Fill)
			}
			m, err = writeRepeated(w, block, c.Blocks)
		default:
			m, err = writeRepeated(w, zero, c.Blocks)
		}

		written += m
		if err != nil {
			return written, &ChunkError{Index: uint32(i), Offset: -1, Err: err}
		}
	}

	return written, nil
}

// WriteRawAt applies the image onto w the way a device applies a flashed
// sparse image: RAW and FILL chunks are written at their block offsets and
// DONT_CARE blocks keep whatever w already holds. It returns the number of
// bytes written.
func (f *File) WriteRawAt(w io.WriterAt) (int64, error) {
	bs := int64(f.Header.BlockSize)
	var written int64

	for i, c := range f.Chunks {
		off := int64(c.Block) * bs
		n := int64(c.Blocks) * bs
		var err error

		switch c.Type {
		case ChunkTypeRaw:
			var m int64
			m, err = io.Copy(io.NewOffsetWriter(w, off), &exactReader{r: io.NewSectionReader(c.src, c.offset, n), left: n})
			written += m
		case ChunkTypeFill:
			block := make([]byte, bs)
			for j := int64(0); j < bs; j += FillPatternSize {
				binary.LittleEndian.PutUint32(block[j:], c.Fill)
			}
			var m int64
			m, err = writeRepeated(io.NewOffsetWriter(w, off), block, c.Blocks)
			written += m
		}

		if err != nil {
			return written, &ChunkError{Index: uint32(i), Offset: -1, Err: err}
		}
	}

	return written, nil
}

func writeRepeated(w io.Writer, block []byte, count uint32) (int64, error) {
	var written int64
	for i := uint32(0); i < count; i++ {
		n, err := w.Write(block)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func hashFill(h hash.Hash32, fill uint32, n int64) error {
	buf := make([]byte, min(n, 64<<10))
	for i := 0; i+FillPatternSize <= len(buf); i += FillPatternSize {
		binary.LittleEndian.PutUint32(buf[i:], fill)
	}
	for n > 0 {
		k := min(n, int64(len(buf)))
		if _, err := h.Write(buf[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// exactReader fails with ErrTruncated when r ends before left bytes.
type exactReader struct {
	r    io.Reader
	left int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.left {
		p = p[:e.left]
	}
	n, err := e.r.Read(p)
	e.left -= int64(n)
	if err == io.EOF {
		if e.left > 0 {
			return n, fmt.Errorf("%w: payload ended %d bytes early", ErrTruncated, e.left)
		}
		return n, nil
	}
	return n, err
}

// hookReader runs fn once when read and then reports EOF.
type hookReader func() error

func (h hookReader) Read([]byte) (int, error) {
	if err := h(); err != nil {
		return 0, err
	}
	return 0, io.EOF
}

// lazyReader produces its content on first read.
type lazyReader struct {
	fn  func() []byte
	buf *bytes.Reader
}

func (l *lazyReader) Read(p []byte) (int, error) {
	if l.buf == nil {
		l.buf = bytes.NewReader(l.fn())
	}
	return l.buf.Read(p)
}
