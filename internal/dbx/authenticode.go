package dbx

import (
	"crypto/sha256"
	"debug/pe"
	"os"
	"sort"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// AuthenticodeHash computes the Authenticode PE hash (PE§32 definition): a
// SHA-256 over the file's bytes excluding the checksum field in the
// optional header, the certificate table directory entry, and the
// certificate table contents itself.
func AuthenticodeHash(path string) ([32]byte, error) {
	var zero [32]byte

	data, err := os.ReadFile(path)
	if err != nil {
		return zero, coreerr.Wrap(coreerr.InvalidFile, err, "read PE file")
	}

	f, err := pe.Open(path)
	if err != nil {
		return zero, coreerr.Wrap(coreerr.InvalidFile, err, "parse PE file")
	}
	defer f.Close()

	checksumOff, certDirOff, err := optionalHeaderOffsets(f, data)
	if err != nil {
		return zero, err
	}

	certOff, certSize, err := certTableEntry(data, certDirOff)
	if err != nil {
		return zero, err
	}

	type excluded struct{ start, end int }
	holes := []excluded{
		{checksumOff, checksumOff + 4},
		{certDirOff, certDirOff + 8},
	}
	if certSize > 0 {
		holes = append(holes, excluded{int(certOff), int(certOff) + int(certSize)})
	}
	sort.Slice(holes, func(i, j int) bool { return holes[i].start < holes[j].start })

	h := sha256.New()
	pos := 0
	for _, hole := range holes {
		if hole.start > len(data) || hole.end > len(data) || hole.start < pos {
			continue
		}
		h.Write(data[pos:hole.start])
		pos = hole.end
	}
	h.Write(data[pos:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// dosHeaderPEOffsetField is the offset within the MS-DOS stub header of
// e_lfanew, the 4-byte pointer to the PE signature.
const dosHeaderPEOffsetField = 0x3c

// optionalHeaderOffsets locates the file offsets of the checksum field and
// the certificate-table data directory entry within the PE optional
// header, handling both PE32 and PE32+ layouts.
func optionalHeaderOffsets(f *pe.File, data []byte) (checksumOff, certDirOff int, err error) {
	if len(data) < dosHeaderPEOffsetField+4 || data[0] != 'M' || data[1] != 'Z' {
		return 0, 0, coreerr.New(coreerr.InvalidFile, "missing MS-DOS stub header")
	}
	peHeaderOff := int(uint32(data[dosHeaderPEOffsetField]) | uint32(data[dosHeaderPEOffsetField+1])<<8 |
		uint32(data[dosHeaderPEOffsetField+2])<<16 | uint32(data[dosHeaderPEOffsetField+3])<<24)

	// COFF file header is 20 bytes after the "PE\0\0" signature; the
	// optional header follows immediately.
	optHeaderStart := peHeaderOff + 4 + 20
	if optHeaderStart+2 > len(data) {
		return 0, 0, coreerr.New(coreerr.InvalidFile, "PE optional header out of range")
	}

	switch f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		checksumOff = optHeaderStart + 0x40
		certDirOff = optHeaderStart + 0x80
	case *pe.OptionalHeader64:
		checksumOff = optHeaderStart + 0x40
		certDirOff = optHeaderStart + 0x90
	default:
		return 0, 0, coreerr.New(coreerr.InvalidFile, "unrecognized PE optional header type")
	}
	return checksumOff, certDirOff, nil
}

// certTableEntry reads the IMAGE_DATA_DIRECTORY (file offset, size) pair
// for the certificate table; for this directory specifically the "RVA"
// field is documented as a raw file offset rather than a virtual address.
func certTableEntry(data []byte, dirOff int) (offset, size uint32, err error) {
	if dirOff+8 > len(data) {
		return 0, 0, coreerr.New(coreerr.InvalidFile, "certificate table directory entry out of range")
	}
	offset = uint32(data[dirOff]) | uint32(data[dirOff+1])<<8 | uint32(data[dirOff+2])<<16 | uint32(data[dirOff+3])<<24
	size = uint32(data[dirOff+4]) | uint32(data[dirOff+5])<<8 | uint32(data[dirOff+6])<<16 | uint32(data[dirOff+7])<<24
	return offset, size, nil
}

// HashAll computes AuthenticodeHash for several binaries, stopping at the
// first unreadable file.
func HashAll(paths []string) (map[string][32]byte, error) {
	out := make(map[string][32]byte, len(paths))
	for _, p := range paths {
		h, err := AuthenticodeHash(p)
		if err != nil {
			return nil, err
		}
		out[p] = h
	}
	return out, nil
}
