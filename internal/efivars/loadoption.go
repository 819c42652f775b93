package efivars

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// efiEncoding is the UCS-2LE codec every EFI_LOAD_OPTION description and
// device-path string field uses.
var efiEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// LoadOption is a parsed EFI_LOAD_OPTION (the payload of a BootXXXX
// variable).
type LoadOption struct {
	Attributes   uint32
	Description  string
	DevicePath   []byte // opaque encoded device path list, see internal/devpath
	OptionalData []byte
}

// Marshal serializes lo into the EFI_LOAD_OPTION wire format: a uint32
// attributes field, a uint16 device-path length, a NUL-terminated UCS-2
// description, the device path bytes, then any optional data.
func (lo *LoadOption) Marshal() ([]byte, error) {
	desc, _, err := transform.Bytes(efiEncoding.NewEncoder(), []byte(lo.Description+"\x00"))
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "encode load option description")
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, lo.Attributes); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write load option attributes")
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(lo.DevicePath))); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write load option device path length")
	}
	buf.Write(desc)
	buf.Write(lo.DevicePath)
	buf.Write(lo.OptionalData)
	return buf.Bytes(), nil
}

// ParseLoadOption decodes an EFI_LOAD_OPTION payload.
func ParseLoadOption(data []byte) (*LoadOption, error) {
	if len(data) < 6 {
		return nil, coreerr.New(coreerr.InvalidData, "load option payload too short: %d bytes", len(data))
	}
	attrs := binary.LittleEndian.Uint32(data[0:4])
	pathLen := int(binary.LittleEndian.Uint16(data[4:6]))

	rest := data[6:]
	nulAt := -1
	for i := 0; i+1 < len(rest); i += 2 {
		if rest[i] == 0 && rest[i+1] == 0 {
			nulAt = i
			break
		}
	}
	if nulAt < 0 {
		return nil, coreerr.New(coreerr.InvalidData, "load option description is not NUL-terminated")
	}

	descBytes, _, err := transform.Bytes(efiEncoding.NewDecoder(), rest[:nulAt])
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidData, err, "decode load option description")
	}

	afterDesc := rest[nulAt+2:]
	if pathLen > len(afterDesc) {
		return nil, coreerr.New(coreerr.InvalidData, "load option device path length %d exceeds remaining %d bytes", pathLen, len(afterDesc))
	}

	return &LoadOption{
		Attributes:   attrs,
		Description:  string(descBytes),
		DevicePath:   append([]byte(nil), afterDesc[:pathLen]...),
		OptionalData: append([]byte(nil), afterDesc[pathLen:]...),
	}, nil
}
