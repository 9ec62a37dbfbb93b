package bootimg

import (
	"encoding/binary"
	"fmt"
)

// AVB vbmeta header layout.
const (
	VbmetaMagic       = "AVB0"
	VbmetaFlagsOffset = 120
	VbmetaHeaderSize  = 256

	// FlagHashtreeDisabled turns off dm-verity ("--disable-verity")
	FlagHashtreeDisabled uint32 = 1 << 0

	// FlagVerificationDisabled turns off AVB verification ("--disable-verification")
	FlagVerificationDisabled uint32 = 1 << 1
)

// VbmetaFlags returns the flags word of a vbmeta image.
func VbmetaFlags(b []byte) (uint32, error) {
	if len(b) < VbmetaHeaderSize || string(b[:4]) != VbmetaMagic {
		return 0, ErrNotVbmeta
	}
	return binary.BigEndian.Uint32(b[VbmetaFlagsOffset:]), nil
}

// SetVbmetaFlags ORs flags into the vbmeta header in b. The flags word is
// outside the signed data, so the image stays valid.
func SetVbmetaFlags(b []byte, flags uint32) error {
	cur, err := VbmetaFlags(b)
	if err != nil {
		return eMsg(fmt.Errorf("%w (%d bytes)", err, len(b)), "patching vbmeta flags")
	}
	binary.BigEndian.PutUint32(b[VbmetaFlagsOffset:], cur|flags)
	return nil
}
