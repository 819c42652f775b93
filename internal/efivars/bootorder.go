package efivars

import (
	"bytes"
	"encoding/binary"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// marshalBootOrder encodes a BootOrder/BootNext-shaped list of boot numbers.
func marshalBootOrder(order []uint16) []byte {
	buf := make([]byte, len(order)*2)
	for i, v := range order {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// unmarshalBootOrder decodes the BootOrder variable payload.
func unmarshalBootOrder(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, coreerr.New(coreerr.InvalidData, "BootOrder payload has odd length %d", len(data))
	}
	out := make([]uint16, len(data)/2)
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &out); err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidData, err, "decode BootOrder")
	}
	return out, nil
}
