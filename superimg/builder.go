package superimg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/moffa90/go-fastboot/lp"
	"github.com/moffa90/go-fastboot/sparse"
)

// DefaultChunkSize bounds the RAW chunks cut from raw partition images.
const DefaultChunkSize = 16 << 20

// Option configures a Builder.
type Option func(*Builder)

// WithChunkSize sets the largest RAW chunk emitted for raw images. Keep it
// well below the device's max-download-size so resparsing can pack chunks.
func WithChunkSize(n int64) Option {
	return func(b *Builder) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

type image struct {
	path string
	size int64
}

// Builder assembles a super partition image from logical partition images.
// Partition content is never copied: the built image reads from the backing
// files when exported, so Close must only be called once the result has been
// flashed.
type Builder struct {
	meta      *lp.MetadataBuilder
	images    map[string]image
	chunkSize int64
	closers   []io.Closer
}

// New returns a builder for a super partition of superSize bytes with no
// template. Partitions are added to the "default" group.
func New(superSize uint64, metadataMaxSize, slotCount uint32, opts ...Option) (*Builder, error) {
	mb, err := lp.NewMetadataBuilder(superSize, metadataMaxSize, slotCount)
	if err != nil {
		return nil, err
	}
	return newBuilder(mb, opts), nil
}

// FromTemplate seeds the builder from a super_empty.img, keeping the
// device's groups, slot layout and partition list.
func FromTemplate(path string, opts ...Option) (*Builder, error) {
	m, err := lp.ReadFromImageFile(path)
	if err != nil {
		return nil, fmt.Errorf("load super template: %w", err)
	}
	return FromMetadata(m, opts...)
}

// FromMetadata seeds the builder from parsed metadata.
func FromMetadata(m *lp.Metadata, opts ...Option) (*Builder, error) {
	mb, err := lp.NewBuilderFromMetadata(m)
	if err != nil {
		return nil, err
	}
	return newBuilder(mb, opts), nil
}

func newBuilder(mb *lp.MetadataBuilder, opts []Option) *Builder {
	b := &Builder{
		meta:      mb,
		images:    make(map[string]image),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Metadata exposes the underlying metadata builder.
func (b *Builder) Metadata() *lp.MetadataBuilder {
	return b.meta
}

// FindPartition returns the partition called name, or nil.
func (b *Builder) FindPartition(name string) *lp.Partition {
	return b.meta.FindPartition(name)
}

// AddPartition maps imagePath onto the partition called name. A partition
// already present in the template keeps its group and attributes; a new
// one is appended to group as read-only.
func (b *Builder) AddPartition(name, imagePath, group string) error {
	if b.meta.FindPartition(name) != nil {
		return b.UpdatePartitionImage(name, imagePath)
	}

	size, err := imageSize(imagePath)
	if err != nil {
		return err
	}
	if group == "" {
		group = lp.DefaultGroupName
	}

	p, err := b.meta.AddPartition(name, group, lp.AttrReadOnly)
	if err != nil {
		return err
	}
	if err := b.meta.ResizePartition(p, uint64(size)); err != nil {
		b.meta.RemovePartition(name)
		return fmt.Errorf("size %s: %w", name, err)
	}

	b.images[name] = image{path: imagePath, size: size}
	return nil
}

// UpdatePartitionImage resizes an existing partition to fit imagePath and
// uses it as the partition's content.
func (b *Builder) UpdatePartitionImage(name, imagePath string) error {
	p := b.meta.FindPartition(name)
	if p == nil {
		return fmt.Errorf("partition %q: %w", name, lp.ErrNotFound)
	}

	size, err := imageSize(imagePath)
	if err != nil {
		return err
	}
	if err := b.meta.ResizePartition(p, uint64(size)); err != nil {
		return fmt.Errorf("size %s: %w", name, err)
	}

	b.images[name] = image{path: imagePath, size: size}
	return nil
}

// imageSize returns the partition bytes an image expands to.
func imageSize(path string) (int64, error) {
	kind, err := sparse.Classify(path)
	if err != nil {
		return 0, err
	}

	switch kind {
	case sparse.KindSparse:
		hdr, err := sparse.PeekHeader(path)
		if err != nil {
			return 0, err
		}
		return int64(hdr.TotalBlocks) * int64(hdr.BlockSize), nil
	case sparse.KindMalformed:
		return 0, fmt.Errorf("%s: %w", path, sparse.ErrInvalidHeader)
	}

	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat image: %w", err)
	}
	return st.Size(), nil
}

// placement is a run of a partition's extents on the super device.
type placement struct {
	name       string
	sector     uint64
	sectors    uint64
	partOffset int64
}

// Build exports the metadata and returns a sparse image of the whole super
// partition: a RAW region holding the geometry and every metadata slot, RAW
// chunks read from each partition image at its extents, and DONT_CARE for
// everything else.
func (b *Builder) Build() (*sparse.File, error) {
	m, err := b.meta.Export()
	if err != nil {
		return nil, err
	}

	dev := m.SuperDevice()
	bs := m.Geometry.LogicalBlockSize
	out, err := sparse.NewFile(bs, uint32(dev.Size/uint64(bs)))
	if err != nil {
		return nil, err
	}

	header, err := lp.SerializeSuperHeader(m)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, alignUp(int64(len(header)), int64(bs)))
	copy(padded, header)
	if err := out.AddRawChunk(bytes.NewReader(padded), 0, uint32(len(padded)/int(bs))); err != nil {
		return nil, fmt.Errorf("metadata region: %w", err)
	}

	var places []placement
	for _, p := range m.Partitions {
		if _, ok := b.images[p.Name]; !ok {
			continue
		}
		var off int64
		for _, e := range p.Extents {
			if e.TargetType != lp.TargetLinear {
				off += int64(e.NumSectors) * lp.SectorSize
				continue
			}
			if e.TargetSource != 0 {
				return nil, fmt.Errorf("partition %s: extents on block device %d are not supported", p.Name, e.TargetSource)
			}
			places = append(places, placement{name: p.Name, sector: e.TargetData, sectors: e.NumSectors, partOffset: off})
			off += int64(e.NumSectors) * lp.SectorSize
		}
	}
	sort.Slice(places, func(i, j int) bool { return places[i].sector < places[j].sector })

	sources := make(map[string]*source)
	cursor := uint64(out.CoveredBlocks())
	sectorsPerBlock := uint64(bs) / lp.SectorSize

	for _, pl := range places {
		if pl.sector%sectorsPerBlock != 0 || pl.sectors%sectorsPerBlock != 0 {
			return nil, fmt.Errorf("partition %s: extent at sector %d is not block aligned", pl.name, pl.sector)
		}

		block := pl.sector / sectorsPerBlock
		if block < cursor {
			return nil, fmt.Errorf("partition %s: extent at block %d overlaps earlier data", pl.name, block)
		}
		if block > cursor {
			if err := out.AddDontCareChunk(uint32(block - cursor)); err != nil {
				return nil, err
			}
		}

		src, ok := sources[pl.name]
		if !ok {
			if src, err = b.open(pl.name); err != nil {
				return nil, err
			}
			sources[pl.name] = src
		}

		blocks := pl.sectors / sectorsPerBlock
		if err := src.emit(out, pl.partOffset, int64(blocks)*int64(bs), b.chunkSize); err != nil {
			return nil, fmt.Errorf("partition %s: %w", pl.name, err)
		}
		cursor = block + blocks
	}

	if total := uint64(out.Header.TotalBlocks); cursor < total {
		if err := out.AddDontCareChunk(uint32(total - cursor)); err != nil {
			return nil, err
		}
	}

	return out, out.Validate()
}

// source is an opened partition image.
type source struct {
	file   *os.File
	size   int64
	sparse *sparse.File
}

func (b *Builder) open(name string) (*source, error) {
	img := b.images[name]

	kind, err := sparse.Classify(img.path)
	if err != nil {
		return nil, err
	}

	if kind == sparse.KindSparse {
		sf, err := sparse.FromImageFile(img.path)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, sf)
		if got := int64(sf.Header.TotalBlocks) * int64(sf.Header.BlockSize); got != img.size {
			return nil, fmt.Errorf("image %s changed size from %d to %d", img.path, img.size, got)
		}
		return &source{sparse: sf, size: img.size}, nil
	}

	fh, err := os.Open(img.path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	b.closers = append(b.closers, fh)

	st, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if st.Size() != img.size {
		return nil, fmt.Errorf("image %s changed size from %d to %d", img.path, img.size, st.Size())
	}

	return &source{file: fh, size: img.size}, nil
}

// emit appends n bytes of partition content starting at off. Only the final
// partial block of a raw image is zero padded; an image that ends before
// its extent does is an error.
func (s *source) emit(out *sparse.File, off, n int64, chunkSize int64) error {
	bs := int64(out.Header.BlockSize)

	if s.sparse != nil {
		return out.AppendBlocks(s.sparse, uint32(off/bs), uint32(n/bs))
	}

	avail := s.size - off
	if avail < n-bs+1 {
		return fmt.Errorf("%w: image ends %d bytes into a %d-byte extent", sparse.ErrTruncated, max(avail, 0), n)
	}

	full := min(avail, n) / bs
	step := max(chunkSize/bs, 1)
	for b := int64(0); b < full; b += step {
		count := min(step, full-b)
		if err := out.AddRawChunk(s.file, off+b*bs, uint32(count)); err != nil {
			return err
		}
	}

	if rest := min(avail, n) - full*bs; rest > 0 {
		tail := make([]byte, bs)
		if _, err := s.file.ReadAt(tail[:rest], off+full*bs); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read image tail: %w", err)
		}
		if err := out.AddRawChunk(bytes.NewReader(tail), 0, 1); err != nil {
			return err
		}
	}

	return nil
}

// Close releases every backing file opened by Build.
func (b *Builder) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	b.closers = nil
	return errors.Join(errs...)
}

func alignUp(v, align int64) int64 {
	return (v + align - 1) / align * align
}
