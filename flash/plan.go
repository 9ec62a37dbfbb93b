package flash

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/moffa90/go-fastboot/sparse"
)

// ImageKind is how an image file will be sent.
type ImageKind int

const (
	// KindRaw is a raw image small enough for a single download
	KindRaw ImageKind = iota

	// KindSparse is a sparse image, resparsed to the transfer ceiling
	KindSparse

	// KindOversizedRaw is a raw image wrapped as RAW chunks and resparsed
	KindOversizedRaw
)

func (k ImageKind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindSparse:
		return "sparse"
	case KindOversizedRaw:
		return "oversized-raw"
	default:
		return fmt.Sprintf("ImageKind(%d)", int(k))
	}
}

// ImagePlan describes one image file ready to be flashed.
type ImagePlan struct {
	Partition string
	Path      string
	Kind      ImageKind

	// FileSize is the size of the file on disk
	FileSize int64

	// PartitionSize is the number of partition bytes the image covers
	PartitionSize int64
}

// PlanImage classifies the image at path. Raw images larger than threshold
// are planned as KindOversizedRaw; a threshold of zero or less never
// resparses raw images. A file with a sparse magic but an invalid header is
// an error.
func PlanImage(path string, threshold int64) (ImagePlan, error) {
	plan := ImagePlan{Path: path}

	st, err := os.Stat(path)
	if err != nil {
		return plan, fmt.Errorf("stat image: %w", err)
	}
	plan.FileSize = st.Size()

	kind, err := sparse.Classify(path)
	if err != nil {
		return plan, err
	}

	switch kind {
	case sparse.KindMalformed:
		return plan, fmt.Errorf("%s: %w", path, sparse.ErrInvalidHeader)

	case sparse.KindSparse:
		hdr, err := sparse.PeekHeader(path)
		if err != nil {
			return plan, err
		}
		plan.Kind = KindSparse
		plan.PartitionSize = int64(hdr.TotalBlocks) * int64(hdr.BlockSize)

	default:
		plan.Kind = KindRaw
		if threshold > 0 && plan.FileSize > threshold {
			plan.Kind = KindOversizedRaw
		}
		plan.PartitionSize = plan.FileSize
	}

	return plan, nil
}

// planImages classifies images concurrently. It touches only local files.
func (f *Flasher) planImages(ctx context.Context, images []ImagePlan, threshold int64) ([]ImagePlan, error) {
	out := make([]ImagePlan, len(images))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Parallelism)
	for i, img := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			plan, err := PlanImage(img.Path, threshold)
			if err != nil {
				return &PartitionError{Partition: img.Partition, Op: "prepare", Err: err}
			}
			plan.Partition = img.Partition
			out[i] = plan
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
