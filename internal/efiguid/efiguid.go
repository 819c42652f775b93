// Package efiguid converts between google/uuid's RFC4122 (big-endian) byte
// order and the "mixed-endian" byte order real EFI binary structures use for
// GUID fields: EFI_GUID is {uint32, uint16, uint16, uint8[8]} laid out
// little-endian field-by-field, not one 16-byte big-endian string. Every
// capsule header, UPDATE_INFO record, and HD() device-path node in this
// module carries a GUID this way, so conversion goes through this package
// rather than writing or comparing uuid.UUID bytes directly.
package efiguid

import (
	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// MixedEndianBytes returns the 16-byte on-disk encoding of u: the first 4
// bytes reverse, the next 2 bytes reverse, the next 2 bytes reverse, and the
// trailing 8 bytes are copied unchanged.
func MixedEndianBytes(u uuid.UUID) [16]byte {
	var b [16]byte
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

// ParseMixedEndian decodes a 16-byte EFI mixed-endian GUID field into a
// google/uuid.UUID. It is the exact inverse of MixedEndianBytes: the swap it
// performs is its own inverse, so ParseMixedEndian(MixedEndianBytes(u)) == u.
func ParseMixedEndian(data []byte) (uuid.UUID, error) {
	if len(data) != 16 {
		return uuid.Nil, coreerr.New(coreerr.InvalidData, "mixed-endian guid field has length %d, want 16", len(data))
	}
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = data[3], data[2], data[1], data[0]
	u[4], u[5] = data[5], data[4]
	u[6], u[7] = data[7], data[6]
	copy(u[8:], data[8:])
	return u, nil
}
