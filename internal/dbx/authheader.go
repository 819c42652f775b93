package dbx

import (
	"encoding/binary"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// authTimestampLen is EFI_TIME's fixed size, the first field of
// EFI_VARIABLE_AUTHENTICATION_2.
const authTimestampLen = 16

// StripAuthHeader removes a wrapping EFI_VARIABLE_AUTHENTICATION_2 header
// (EFI_TIME timestamp followed by a WIN_CERTIFICATE_UEFI_GUID whose
// dwLength gives the certificate's total size) from the front of data,
// returning the bare EFI_SIGNATURE_LIST stream that follows. Real dbx
// update payloads are sometimes delivered wrapped this way and sometimes
// as a bare signature-list stream; callers that know which they have skip
// this step via ApplyOptions.SkipAuthHeader.
func StripAuthHeader(data []byte) ([]byte, error) {
	if len(data) < authTimestampLen+4 {
		return nil, coreerr.New(coreerr.InvalidData, "payload too short for an EFI_VARIABLE_AUTHENTICATION_2 header")
	}
	certOff := authTimestampLen
	dwLength := binary.LittleEndian.Uint32(data[certOff : certOff+4])
	payloadOff := certOff + int(dwLength)
	if dwLength < 8 || payloadOff > len(data) {
		return nil, coreerr.New(coreerr.InvalidData, "WIN_CERTIFICATE dwLength %d inconsistent with %d-byte payload", dwLength, len(data))
	}
	return data[payloadOff:], nil
}
