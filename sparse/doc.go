// Package sparse reads, builds and re-segments Android sparse images.
//
// # Sparse Image Format
//
// A sparse image is a fixed header followed by an ordered list of chunks.
// Every multi-byte field is little-endian.
//
//	Header (28 bytes):
//	  [MAGIC(4)][MAJOR(2)][MINOR(2)][FILE_HDR_SZ(2)][CHUNK_HDR_SZ(2)]
//	  [BLOCK_SZ(4)][TOTAL_BLKS(4)][TOTAL_CHUNKS(4)][IMAGE_CHECKSUM(4)]
//
//	Chunk header (12 bytes):
//	  [TYPE(2)][RESERVED(2)][CHUNK_SZ(4)][TOTAL_SZ(4)]
//
// Where:
//   - MAGIC = 0xED26FF3A
//   - CHUNK_SZ is the number of output blocks the chunk covers
//   - TOTAL_SZ is the chunk header plus its payload in bytes
//
// Chunk payloads depend on the type:
//   - RAW (0xCAC1): CHUNK_SZ * BLOCK_SZ bytes of literal data
//   - FILL (0xCAC2): a 4-byte pattern repeated over every block
//   - DONT_CARE (0xCAC3): no payload, blocks are left untouched
//   - CRC32 (0xCAC4): 4-byte CRC of the data written so far
//
// # Reading
//
// Chunk payloads are never loaded into memory. A parsed File keeps a
// reference to its source and streams RAW data on export:
//
//	f, err := sparse.FromImageFile("system.img")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
// Images that are not sparse can be wrapped so they go through the same
// segmentation path:
//
//	f, err := sparse.FromRawFile("vendor.img", sparse.DefaultBlockSize, 64<<20)
//
// Use Classify to decide between the two without probing through errors.
//
// # Resparse
//
// Devices accept one bounded payload per download. Resparse splits a File
// into segments that each fit a byte budget and each address the complete
// block range, so flashing the segments in order produces the same partition
// content as the original image:
//
//	segments, err := f.Resparse(maxDownloadSize)
//	for _, seg := range segments {
//	    r, n, err := seg.ExportStream(0, len(seg.Chunks), false)
//	    // download n bytes from r, then flash
//	}
package sparse
