package sparse

import "fmt"

// segmentOverhead is the fixed cost of a segment: the file header, a leading
// and a trailing DONT_CARE, and room for a CRC32 chunk.
const segmentOverhead = HeaderSize + 2*ChunkHeaderSize + ChunkHeaderSize + CRCPayloadSize

// Resparse splits f into images that each encode to at most maxBytes, except
// when a single chunk alone exceeds the budget: such a chunk is emitted as its
// own segment and is never split.
//
// Every segment has the same TotalBlocks as f and covers the blocks it does
// not carry with DONT_CARE, so writing the segments one after the other
// produces the content f describes. Segments reference f's data sources and
// must not be used after f is closed.
func (f *File) Resparse(maxBytes int64) ([]*File, error) {
	if maxBytes <= segmentOverhead {
		return nil, fmt.Errorf("resparse budget of %d bytes cannot hold a segment (minimum %d)", maxBytes, segmentOverhead+1)
	}

	bs := f.Header.BlockSize
	var (
		segments []*File
		current  []Chunk
		cost     int64
	)

	flush := func() {
		seg := &File{Header: newHeader(bs, f.Header.TotalBlocks)}
		seg.Chunks = span(current, f.Header.TotalBlocks)
		seg.Header.TotalChunks = uint32(len(seg.Chunks))
		segments = append(segments, seg)
		current, cost = nil, 0
	}

	for _, c := range f.Chunks {
		if c.Type == ChunkTypeDontCare {
			continue
		}

		add := c.EncodedSize(bs)
		if n := len(current); n > 0 {
			if prev := current[n-1]; prev.Block+prev.Blocks != c.Block {
				add += ChunkHeaderSize
			}
		}

		if len(current) > 0 && segmentOverhead+cost+add > maxBytes {
			flush()
			add = c.EncodedSize(bs)
		}

		current = append(current, c)
		cost += add
	}

	if len(current) > 0 || len(segments) == 0 {
		flush()
	}

	return segments, nil
}
