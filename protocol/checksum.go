package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest accumulates the SHA-256 of a download payload as it is written to
// the device. The resulting hex string is stored in Response.Hash so callers
// can compare what was sent against a known image.
type Digest struct {
	h hash.Hash
	n int64
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write adds p to the digest. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Size returns the number of bytes hashed so far.
func (d *Digest) Size() int64 {
	return d.n
}

// Hex returns the lowercase hex SHA-256 of everything written.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
