// Package image lays a boot sector into a floppy disk image.
package image

import (
	"io"
)

const (
	SIZE           = 1474560 // 1.44MB floppy
	SECTOR_SIZE    = 512
	SIGNATURE_LOW  = 0x55
	SIGNATURE_HIGH = 0xAA
)

// Image is a complete floppy disk image.
type Image []byte

// Build places up to one sector of raw into a zeroed image, then stamps the
// boot signature over bytes 510 and 511. Bytes past the first sector are
// dropped, and counted.
func Build(raw []byte) (img Image, dropped int) {
	img = make(Image, SIZE)

	copy(img, raw[:min(SECTOR_SIZE, len(raw))])
	img[SECTOR_SIZE-2] = SIGNATURE_LOW
	img[SECTOR_SIZE-1] = SIGNATURE_HIGH

	dropped = max(0, len(raw)-SECTOR_SIZE)
	return
}

// BootSector returns the first sector.
func (img Image) BootSector() []byte {
	return img[:SECTOR_SIZE]
}

// Bootable returns true if the first sector carries the boot signature.
func (img Image) Bootable() bool {
	return len(img) >= SECTOR_SIZE &&
		img[SECTOR_SIZE-2] == SIGNATURE_LOW &&
		img[SECTOR_SIZE-1] == SIGNATURE_HIGH
}

// WriteTo writes the whole image.
func (img Image) WriteTo(w io.Writer) (n int64, err error) {
	count, err := w.Write(img)
	n = int64(count)
	return
}
