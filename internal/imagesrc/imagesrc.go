// Package imagesrc opens image files that may be compressed. Compressed
// images are expanded to a temporary file first, because sparse parsing
// and resparsing need random access.
package imagesrc

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Format is a compression format.
type Format string

const (
	FormatNone  Format = "none"
	FormatXZ    Format = "xz"
	FormatBzip2 Format = "bzip2"
	FormatGzip  Format = "gzip"
	FormatZstd  Format = "zstd"
)

var magics = []struct {
	format Format
	magic  []byte
}{
	{FormatXZ, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},
	{FormatBzip2, []byte("BZh")},
	{FormatGzip, []byte{0x1F, 0x8B, 0x08}}, // deflate is the only defined method
	{FormatZstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
}

// Detect returns the compression format of data from its leading bytes.
func Detect(head []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(head, m.magic) {
			return m.format
		}
	}
	return FormatNone
}

// Source is an image ready to be flashed.
type Source struct {
	// Path is the file to read; a temporary file for compressed inputs
	Path string

	// Origin is the path that was opened
	Origin string

	Format Format
}

// Open inspects path and expands it into dir when compressed. An empty dir
// means os.TempDir(). Close removes any temporary file.
func Open(path, dir string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 8)
	n, _ := io.ReadFull(f, head)
	src := &Source{Path: path, Origin: path, Format: Detect(head[:n])}
	if src.Format == FormatNone {
		return src, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind image: %w", err)
	}
	r, err := decompressor(src.Format, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s stream: %w", path, src.Format, err)
	}
	defer func() { _ = r.Close() }()

	if dir == "" {
		dir = os.TempDir()
	}
	tmp := filepath.Join(dir, fmt.Sprintf("gofastboot-%s.img", uuid.New()))
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temporary image: %w", err)
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("write temporary image: %w", err)
	}

	src.Path = tmp
	return src, nil
}

// Close removes the temporary file of a compressed source.
func (s *Source) Close() error {
	if s.Path == s.Origin {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func decompressor(format Format, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case FormatXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case FormatBzip2:
		return bzip2.NewReader(r, nil)
	case FormatGzip:
		return gzip.NewReader(r)
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}
}
