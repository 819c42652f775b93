package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/capsule"
	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
)

// osIndicationsFileCapsuleDeliverySupported is bit 2 of OsIndicationsSupported
// / OsIndications (EFI_OS_INDICATIONS_FILE_CAPSULE_DELIVERY_SUPPORTED).
const osIndicationsFileCapsuleDeliverySupported = 1 << 2

// dellGUID, with the DellFwuCap variable name, gates the Dell recovery quirk (spec.md §4.5.2).
var dellGUID = mustParseDellGUID()

func mustParseDellGUID() [16]byte {
	// abba7dc1-... is referenced only by its first half in spec.md; the
	// remaining bytes are fixed by the Dell firmware update driver's own
	// vendor GUID definition.
	id := [16]byte{0xab, 0xba, 0x7d, 0xc1, 0x0a, 0x6c, 0x4a, 0x80, 0x9e, 0xe3, 0xb8, 0x09, 0x7e, 0xb9, 0xb6, 0x19}
	return id
}

// quirkFlagCoDWorks is bit 0 of the InsydeH2O $QUIRK structure embedded in
// the ACPI UEFI table.
const quirkFlagCoDWorks = 1 << 0

// ParseACPIUEFIQuirk scans the raw ACPI UEFI table for an embedded
// InsydeH2O $QUIRK structure ({ "$QUIRK", flags uint32 }) and reports
// whether bit 0 (CoD actually works) is set. A table with no $QUIRK
// marker is treated as "no opinion" (true): only a table that explicitly
// clears the bit vetoes CoD.
func ParseACPIUEFIQuirk(tableData []byte) (bool, error) {
	marker := []byte("$QUIRK")
	idx := bytes.Index(tableData, marker)
	if idx < 0 {
		return true, nil
	}
	flagsOff := idx + len(marker)
	if flagsOff+4 > len(tableData) {
		return false, coreerr.New(coreerr.InvalidData, "$QUIRK structure truncated in ACPI UEFI table")
	}
	flags := binary.LittleEndian.Uint32(tableData[flagsOff : flagsOff+4])
	return flags&quirkFlagCoDWorks != 0, nil
}

// CoDBackend implements spec.md §4.5.2.
type CoDBackend struct {
	Store                  efivars.Store
	Volume                 espvol.Volume
	Target                 capsule.FixupTarget
	StagedCapsuleBytes     []byte
	OsIndicationsSupported uint64
	ACPIUEFIQuirkOK        bool // result of ParseACPIUEFIQuirk against this platform's ACPI UEFI table
	Quirks                 capsule.DeviceQuirks
}

func (b *CoDBackend) Kind() Kind { return CapsuleOnDisk }

func (b *CoDBackend) Deliver() (*Result, error) {
	if b.OsIndicationsSupported&osIndicationsFileCapsuleDeliverySupported == 0 {
		return nil, errUnsupported("firmware does not advertise EFI_OS_INDICATIONS_FILE_CAPSULE_DELIVERY_SUPPORTED")
	}
	if !b.ACPIUEFIQuirkOK {
		return nil, errUnsupported("ACPI UEFI $QUIRK table indicates Capsule-on-Disk does not work on this platform")
	}

	path, err := b.writeCapsuleFile()
	if err != nil {
		return nil, err
	}

	if err := b.setOsIndicationsBit(); err != nil {
		return nil, err
	}

	return &Result{Kind: CapsuleOnDisk, StagedPath: path, Detail: "OsIndications bit set"}, nil
}

func (b *CoDBackend) writeCapsuleFile() (string, error) {
	if b.Quirks.CodDellRecovery {
		dellCap, err := b.Store.GetDataBytes(dellGUID, "DellFwuCap")
		if err == nil && len(dellCap) == 1 {
			path := filepath.Join(b.Volume.MountPoint, "EFI", "dell", "bios", "recovery", "BIOS_TRS.rcv")
			if err := writeWithParents(path, b.StagedCapsuleBytes); err != nil {
				return "", err
			}
			if err := b.Store.SetData(dellGUID, "DellFwuCap", []byte{1}, efivars.StandardAttrs); err != nil {
				return "", coreerr.Wrap(coreerr.Write, err, "set DellFwuCap")
			}
			return path, nil
		}
		// Present-but-unreadable or wrong-length is "quirk not available",
		// not "assume enabled" — fall through to the normal CoD path.
	}

	dir := filepath.Join(b.Volume.MountPoint, "EFI", "UpdateCapsule")
	var name string
	if b.Quirks.CodIndexedFilename {
		idx, err := lowestUnusedIndex(dir)
		if err != nil {
			return "", err
		}
		name = fmt.Sprintf("CapsuleUpdateFile%04d.bin", idx)
	} else {
		name = capsule.StagedFileName(b.Target.FirmwareClass)
	}
	path := filepath.Join(dir, name)
	if err := writeWithParents(path, b.StagedCapsuleBytes); err != nil {
		return "", err
	}
	return path, nil
}

func lowestUnusedIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, coreerr.Wrap(coreerr.Internal, err, "list CoD directory")
	}
	used := make(map[int]bool)
	for _, e := range entries {
		var idx int
		if _, err := fmt.Sscanf(e.Name(), "CapsuleUpdateFile%04d.bin", &idx); err == nil {
			used[idx] = true
		}
	}
	for i := 0; i < 10000; i++ {
		if !used[i] {
			return i, nil
		}
	}
	return 0, coreerr.New(coreerr.Internal, "no unused CapsuleUpdateFile index available")
}

func writeWithParents(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "create CoD directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "write CoD capsule file")
	}
	return nil
}

func (b *CoDBackend) setOsIndicationsBit() error {
	current, err := b.Store.GetDataBytes(efivars.GlobalGUID, "OsIndications")
	var value uint64
	if err == nil && len(current) == 8 {
		value = binary.LittleEndian.Uint64(current)
	} else if err != nil && !coreerr.Is(err, coreerr.NotFound) {
		return err
	}
	value |= osIndicationsFileCapsuleDeliverySupported
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, value)
	if err := b.Store.SetData(efivars.GlobalGUID, "OsIndications", out, efivars.StandardAttrs); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "set OsIndications")
	}
	return nil
}
