// Package capsule implements the staging pipeline that turns a firmware
// payload into a written capsule file plus its UPDATE_INFO binding
// variable (spec.md §4.3).
package capsule

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efiguid"
)

// FMPCapsuleGUID wraps an already-complete FMP capsule; payloads that start
// with it pass through the fixup untouched.
var FMPCapsuleGUID = uuid.MustParse("6dcbd5ed-e82d-4c44-bda1-7194199ad92a")

// DefaultPageSize is the header_size used when synthesizing a capsule
// header, matching the platform page size on every architecture this core
// targets.
const DefaultPageSize = 4096

// headerLen is the fixed portion of the UEFI capsule header this core
// reads and writes: guid(16) + header_size(4) + flags(4) + image_size(4).
const headerLen = 28

// FixupTarget is the subset of esrt.CapsuleTarget the header fixup needs,
// kept narrow so FixupHeader depends on nothing else from an ESRT entry.
type FixupTarget struct {
	FirmwareClass        uuid.UUID
	CapsuleFlags         uint32
	NoCapsuleHeaderFixup bool
}

// FixupHeader implements spec.md §4.3.1: it returns payload unchanged when
// it is already a well-formed capsule (or fixup is disabled for this
// target), otherwise it synthesizes a capsule header and prepends it.
func FixupHeader(target FixupTarget, payload []byte, pageSize int) ([]byte, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	if len(payload) >= 16 {
		leading, err := efiguid.ParseMixedEndian(payload[:16])
		if err == nil && (leading == target.FirmwareClass || leading == FMPCapsuleGUID) {
			return payload, nil
		}
	}
	if target.NoCapsuleHeaderFixup {
		return payload, nil
	}

	headerSize := pageSize
	if headerSize < headerLen {
		headerSize = headerLen
	}
	imageSize := uint32(len(payload)) + uint32(headerSize)

	var buf bytes.Buffer
	classMixed := efiguid.MixedEndianBytes(target.FirmwareClass)
	buf.Write(classMixed[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(headerSize)); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write capsule header_size")
	}
	if err := binary.Write(&buf, binary.LittleEndian, target.CapsuleFlags); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write capsule flags")
	}
	if err := binary.Write(&buf, binary.LittleEndian, imageSize); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write capsule image_size")
	}
	// Pad the header out to header_size before appending the payload.
	if pad := headerSize - buf.Len(); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}
