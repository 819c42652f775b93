package uxcapsule

import (
	"bytes"
	"encoding/binary"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efiguid"
)

// uxHeaderVersion and uxHeaderImageType fill the first two bytes of the
// 8-byte ux_capsule_header that buildUxHeader lays out.
const uxHeaderVersion = 1
const uxHeaderImageType = 0

// capsuleHeaderLen mirrors internal/capsule's 28-byte efi_capsule_header.
const capsuleHeaderLen = 28

// BMPDimensions is the minimal subset of a BMP's DIB header this package
// needs to compute placement; callers pass the bitmap's size in (Stage uses
// the resolution it selected from the archive) rather than this package
// parsing the BMP.
type BMPDimensions struct {
	Width  uint32
	Height uint32
}

// Compose builds a complete UX capsule file per spec.md §4.6: a capsule
// header carrying CapsuleGUID, an 8-byte ux_capsule_header, and the BMP
// payload, checksummed so the file's byte sum is zero mod 256.
func Compose(screenWidth uint32, bgrt BGRT, bmp BMPDimensions, bmpData []byte, capsuleFlags uint32) ([]byte, error) {
	if bmp.Width > screenWidth {
		return nil, coreerr.New(coreerr.InvalidData, "splash bitmap width %d exceeds screen width %d", bmp.Width, screenWidth)
	}

	xOffset := (screenWidth - bmp.Width) / 2
	yOffset := bgrt.YOffset + bgrt.Height

	capHdr, err := buildCapsuleHeader(uint32(capsuleHeaderLen+8+len(bmpData)), capsuleFlags)
	if err != nil {
		return nil, err
	}
	uxHdr := buildUxHeader(xOffset, yOffset)

	checksum := byte(0x100 - int(sum8(capHdr)+sum8(uxHdr)+sum8(bmpData))&0xFF)
	uxHdr[7] = checksum

	var buf bytes.Buffer
	buf.Write(capHdr)
	buf.Write(uxHdr)
	buf.Write(bmpData)
	return buf.Bytes(), nil
}

func buildCapsuleHeader(imageSize uint32, flags uint32) ([]byte, error) {
	var buf bytes.Buffer
	guid := efiguid.MixedEndianBytes(CapsuleGUID)
	buf.Write(guid[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(capsuleHeaderLen)); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write ux capsule header_size")
	}
	if err := binary.Write(&buf, binary.LittleEndian, flags); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write ux capsule flags")
	}
	if err := binary.Write(&buf, binary.LittleEndian, imageSize); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write ux capsule image_size")
	}
	return buf.Bytes(), nil
}

// buildUxHeader lays out the 8-byte header: version(1) + image_type(1) +
// reserved(1) + x_offset(2) + y_offset(2) + checksum(1). The offsets are
// truncated to 16 bits, which covers a 640-7680px display range.
func buildUxHeader(xOffset, yOffset uint32) []byte {
	h := make([]byte, 8)
	h[0] = uxHeaderVersion
	h[1] = uxHeaderImageType
	h[2] = 0 // reserved
	binary.LittleEndian.PutUint16(h[3:5], uint16(xOffset))
	binary.LittleEndian.PutUint16(h[5:7], uint16(yOffset))
	h[7] = 0 // checksum, filled in by Compose
	return h
}

func sum8(data []byte) byte {
	var s byte
	for _, b := range data {
		s += b
	}
	return s
}
