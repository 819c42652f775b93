package testutil

import (
	"encoding/binary"
	"os"
	"sort"
)

// CreateTestUKIFile creates a minimal PE file with .linux, .initrd, .cmdline sections for testing.
func CreateTestUKIFile(path, cmdline, kernel, initrd string) error {
	sections := map[string][]byte{
		".linux":   []byte(kernel),
		".initrd":  []byte(initrd),
		".cmdline": []byte(cmdline),
	}
	return CreateMinimalPEFile(path, sections)
}

// CreateMinimalPEFile creates a PE file with given sections.
// This is a helper for testing - creates valid PE structure.
func CreateMinimalPEFile(path string, sections map[string][]byte) error {
	return CreateSignedPEFile(path, sections, nil)
}

// CreateSignedPEFile extends CreateMinimalPEFile with an Authenticode
// certificate table: certData, if non-empty, is appended after the section
// data and wired into the optional header's data directory entry 4
// (IMAGE_DIRECTORY_ENTRY_SECURITY), so dbx's AuthenticodeHash has a
// checksum field and certificate table region to exclude.
func CreateSignedPEFile(path string, sections map[string][]byte, certData []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// DOS header (64 bytes)
	dosHeader := make([]byte, 64)
	dosHeader[0] = 'M'
	dosHeader[1] = 'Z'
	binary.LittleEndian.PutUint32(dosHeader[60:], 64) // PE offset at 0x3C

	// PE signature (4 bytes)
	peSignature := []byte{'P', 'E', 0, 0}

	// Optional header for PE32+: the 112-byte fixed portion (magic
	// through NumberOfRvaAndSizes) followed by 16 data directories of 8
	// bytes each (RVA/offset + size); directory 4 (certificate table)
	// sits at 0x70+4*8=0x90. Checksum lives at fixed offset 0x40.
	const optHeaderSize = 112 + 16*8

	// COFF header (20 bytes)
	numSections := uint16(len(sections))
	coffHeader := make([]byte, 20)
	binary.LittleEndian.PutUint16(coffHeader[0:], 0x8664)          // AMD64
	binary.LittleEndian.PutUint16(coffHeader[2:], numSections)     // Number of sections
	binary.LittleEndian.PutUint16(coffHeader[16:], optHeaderSize)  // Optional header size
	binary.LittleEndian.PutUint16(coffHeader[18:], 0x22)           // Characteristics

	optHeader := make([]byte, optHeaderSize)
	binary.LittleEndian.PutUint16(optHeader[0:], 0x20b) // PE32+ magic
	optHeader[2] = 1                                    // Major linker version
	binary.LittleEndian.PutUint32(optHeader[0x6c:], 16) // NumberOfRvaAndSizes

	// Calculate data start (aligned to 512)
	headerSize := 64 + 4 + 20 + optHeaderSize + int(numSections)*40
	dataStart := ((headerSize + 511) / 512) * 512

	// Section headers (40 bytes each)
	sectionHeaders := make([]byte, 0, int(numSections)*40)
	sectionNames := make([]string, 0, len(sections))
	for name := range sections {
		sectionNames = append(sectionNames, name)
	}
	sort.Strings(sectionNames) // Ensure deterministic order

	currentOffset := dataStart
	for _, name := range sectionNames {
		data := sections[name]
		hdr := make([]byte, 40)

		// Name (8 bytes, null-padded)
		copy(hdr[0:8], name)

		// VirtualSize
		binary.LittleEndian.PutUint32(hdr[8:], uint32(len(data)))
		// VirtualAddress
		binary.LittleEndian.PutUint32(hdr[12:], uint32(currentOffset))
		// SizeOfRawData (aligned to 512)
		rawSize := ((len(data) + 511) / 512) * 512
		binary.LittleEndian.PutUint32(hdr[16:], uint32(rawSize))
		// PointerToRawData
		binary.LittleEndian.PutUint32(hdr[20:], uint32(currentOffset))

		sectionHeaders = append(sectionHeaders, hdr...)
		currentOffset += rawSize
	}

	// The certificate table, when present, is appended as its own raw
	// region after every section's data (its directory entry stores a
	// raw file offset, not an RVA, per the PE/COFF spec's one exception).
	if len(certData) > 0 {
		binary.LittleEndian.PutUint32(optHeader[0x90:], uint32(currentOffset))
		binary.LittleEndian.PutUint32(optHeader[0x94:], uint32(len(certData)))
	}

	// Write everything
	if _, err := f.Write(dosHeader); err != nil {
		return err
	}
	if _, err := f.Write(peSignature); err != nil {
		return err
	}
	if _, err := f.Write(coffHeader); err != nil {
		return err
	}
	if _, err := f.Write(optHeader); err != nil {
		return err
	}
	if _, err := f.Write(sectionHeaders); err != nil {
		return err
	}

	// Pad to data start
	padding := make([]byte, dataStart-headerSize)
	if _, err := f.Write(padding); err != nil {
		return err
	}

	// Write section data
	for _, name := range sectionNames {
		data := sections[name]
		if _, err := f.Write(data); err != nil {
			return err
		}
		// Pad to 512 boundary
		rawSize := ((len(data) + 511) / 512) * 512
		sectionPadding := make([]byte, rawSize-len(data))
		if _, err := f.Write(sectionPadding); err != nil {
			return err
		}
	}

	if len(certData) > 0 {
		if _, err := f.Write(certData); err != nil {
			return err
		}
	}

	return nil
}
