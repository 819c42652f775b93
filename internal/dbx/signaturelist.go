// Package dbx implements the UEFI revocation database (dbx) device: parsing
// and appending EFI_SIGNATURE_LIST payloads, checking that installing a new
// dbx would not revoke any binary the ESP actually boots, and the optional
// snapd coordination hook (spec.md §4.7).
package dbx

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efiguid"
)

// SHA256SignatureType and X509SignatureType are the well-known
// EFI_SIGNATURE_LIST signature_type GUIDs dbx entries use.
var (
	SHA256SignatureType = uuid.MustParse("c1c41626-504c-4092-aca9-41f936934328")
	X509SignatureType   = uuid.MustParse("a5c059a1-94e4-4aa7-87b5-ab155c2bf072")
)

// sigListHeaderLen is EFI_SIGNATURE_LIST's fixed header: signature_type(16)
// + signature_list_size(4) + signature_header_size(4) + signature_size(4).
const sigListHeaderLen = 28

// Entry is one (owner_guid, data) pair within a SignatureList.
type Entry struct {
	Owner uuid.UUID
	Data  []byte
}

// SignatureList is one EFI_SIGNATURE_LIST as defined by UEFI §32.
type SignatureList struct {
	SignatureType uuid.UUID
	HeaderData    []byte // the signature_header_size region, usually empty
	SignatureSize uint32 // 16 + per-entry data length
	Entries       []Entry
}

// ParseSignatureLists parses a byte blob as a sequence of back-to-back
// EFI_SIGNATURE_LISTs, failing if the trailing bytes do not form a
// well-formed list (spec.md §4.7 step 1).
func ParseSignatureLists(data []byte) ([]SignatureList, error) {
	var out []SignatureList
	for len(data) > 0 {
		if len(data) < sigListHeaderLen {
			return nil, coreerr.New(coreerr.InvalidData, "trailing %d bytes too short for an EFI_SIGNATURE_LIST header", len(data))
		}
		sigType, err := efiguid.ParseMixedEndian(data[:16])
		if err != nil {
			return nil, err
		}
		listSize := binary.LittleEndian.Uint32(data[16:20])
		headerSize := binary.LittleEndian.Uint32(data[20:24])
		sigSize := binary.LittleEndian.Uint32(data[24:28])

		if sigSize < 16 {
			return nil, coreerr.New(coreerr.InvalidData, "signature_size %d is smaller than the minimum 16-byte owner GUID", sigSize)
		}
		if uint64(listSize) > uint64(len(data)) || listSize < sigListHeaderLen+headerSize {
			return nil, coreerr.New(coreerr.InvalidData, "signature_list_size %d inconsistent with remaining %d bytes", listSize, len(data))
		}
		entriesSize := listSize - sigListHeaderLen - headerSize
		if sigSize == 0 || entriesSize%sigSize != 0 {
			return nil, coreerr.New(coreerr.InvalidData, "entries region %d bytes is not a multiple of signature_size %d", entriesSize, sigSize)
		}

		headerData := append([]byte(nil), data[sigListHeaderLen:sigListHeaderLen+headerSize]...)
		entriesData := data[sigListHeaderLen+headerSize : listSize]

		var entries []Entry
		for off := uint32(0); off < entriesSize; off += sigSize {
			chunk := entriesData[off : off+sigSize]
			owner, err := efiguid.ParseMixedEndian(chunk[:16])
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Owner: owner, Data: append([]byte(nil), chunk[16:]...)})
		}

		out = append(out, SignatureList{
			SignatureType: sigType,
			HeaderData:    headerData,
			SignatureSize: sigSize,
			Entries:       entries,
		})
		data = data[listSize:]
	}
	if len(out) == 0 {
		return nil, coreerr.New(coreerr.InvalidData, "payload contains no EFI_SIGNATURE_LISTs")
	}
	return out, nil
}

// Marshal writes the list back to its EFI_SIGNATURE_LIST wire form.
func (l SignatureList) Marshal() ([]byte, error) {
	if l.SignatureSize < 16 {
		return nil, coreerr.New(coreerr.InvalidData, "signature_size must be at least 16")
	}
	var entries bytes.Buffer
	for _, e := range l.Entries {
		if uint32(len(e.Data)) != l.SignatureSize-16 {
			return nil, coreerr.New(coreerr.InvalidData, "entry data length %d does not match signature_size-16 (%d)", len(e.Data), l.SignatureSize-16)
		}
		owner := efiguid.MixedEndianBytes(e.Owner)
		entries.Write(owner[:])
		entries.Write(e.Data)
	}

	listSize := uint32(sigListHeaderLen) + uint32(len(l.HeaderData)) + uint32(entries.Len())
	var buf bytes.Buffer
	sigType := efiguid.MixedEndianBytes(l.SignatureType)
	buf.Write(sigType[:])
	binary.Write(&buf, binary.LittleEndian, listSize)
	binary.Write(&buf, binary.LittleEndian, uint32(len(l.HeaderData)))
	binary.Write(&buf, binary.LittleEndian, l.SignatureSize)
	buf.Write(l.HeaderData)
	buf.Write(entries.Bytes())
	return buf.Bytes(), nil
}

// MarshalAll concatenates several lists into one payload.
func MarshalAll(lists []SignatureList) ([]byte, error) {
	var buf bytes.Buffer
	for _, l := range lists {
		b, err := l.Marshal()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// ContainsSHA256 reports whether any SHA-256 list in lists contains hash.
func ContainsSHA256(lists []SignatureList, hash [32]byte) bool {
	for _, l := range lists {
		if l.SignatureType != SHA256SignatureType {
			continue
		}
		for _, e := range l.Entries {
			if len(e.Data) == 32 && bytes.Equal(e.Data, hash[:]) {
				return true
			}
		}
	}
	return false
}

// LastEntrySHA256 returns the SHA-256 hash of the last entry across every
// SHA-256 list, used as the dbx device's reported identity (spec.md §4.7).
func LastEntrySHA256(lists []SignatureList) ([32]byte, bool) {
	var last [32]byte
	found := false
	for _, l := range lists {
		if l.SignatureType != SHA256SignatureType {
			continue
		}
		for _, e := range l.Entries {
			if len(e.Data) == 32 {
				copy(last[:], e.Data)
				found = true
			}
		}
	}
	return last, found
}
