// Package bootimg encodes and decodes Android boot image headers.
//
// Boot image headers come in five layouts. Versions 0 to 2 are page
// aligned and carry load addresses, a board name and an ID computed over
// the payloads; versions 3 and 4 drop the addresses and use fixed 4096-byte
// pages. Each layout is its own type implementing Header, so a header is
// always one concrete variant:
//
//	switch h := hdr.(type) {
//	case *bootimg.HeaderV2:
//	    fmt.Println("dtb size", h.DtbSize)
//	case *bootimg.HeaderV4:
//	    fmt.Println("signature size", h.SignatureSize)
//	}
//
// Build assembles a complete image from a kernel and optional ramdisk,
// second stage and device tree, ready for "fastboot boot" or for flashing to
// a boot partition.
package bootimg
