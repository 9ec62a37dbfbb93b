package sparse

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeader is returned for headers failing Header.IsValid
	ErrInvalidHeader = errors.New("invalid sparse header")

	// ErrInvalidChunk is returned for chunks whose sizes disagree with their type
	ErrInvalidChunk = errors.New("invalid sparse chunk")

	// ErrTruncated is returned when a header or payload ends early
	ErrTruncated = errors.New("truncated sparse image")
)

// ChunkError reports a problem with a specific chunk of a sparse image.
type ChunkError struct {
	// Index is the position of the chunk in the image
	Index uint32

	// Offset is the byte offset of the chunk header
	Offset int64

	// Err is the underlying cause
	Err error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
