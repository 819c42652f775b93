package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fwupdcore/uefi-capsule-core/internal/capsule"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
	"github.com/google/uuid"
)

func TestParseACPIUEFIQuirkNoMarkerMeansOK(t *testing.T) {
	ok, err := ParseACPIUEFIQuirk([]byte("no marker here"))
	if err != nil {
		t.Fatalf("ParseACPIUEFIQuirk: %v", err)
	}
	if !ok {
		t.Error("expected no-opinion table to report ok=true")
	}
}

func TestParseACPIUEFIQuirkBitClear(t *testing.T) {
	data := append([]byte("padding"), append([]byte("$QUIRK"), 0x00, 0x00, 0x00, 0x00)...)
	ok, err := ParseACPIUEFIQuirk(data)
	if err != nil {
		t.Fatalf("ParseACPIUEFIQuirk: %v", err)
	}
	if ok {
		t.Error("expected cleared bit 0 to report ok=false")
	}
}

func TestParseACPIUEFIQuirkBitSet(t *testing.T) {
	data := append([]byte("padding"), append([]byte("$QUIRK"), 0x01, 0x00, 0x00, 0x00)...)
	ok, err := ParseACPIUEFIQuirk(data)
	if err != nil {
		t.Fatalf("ParseACPIUEFIQuirk: %v", err)
	}
	if !ok {
		t.Error("expected set bit 0 to report ok=true")
	}
}

func TestCoDBackendRejectsUnsupportedFirmware(t *testing.T) {
	b := &CoDBackend{Store: efivars.NewMemStore(), OsIndicationsSupported: 0, ACPIUEFIQuirkOK: true}
	if _, err := b.Deliver(); err == nil {
		t.Fatal("expected NotSupported when OsIndicationsSupported bit 2 is clear")
	}
}

func TestCoDBackendWritesDefaultPath(t *testing.T) {
	dir := t.TempDir()
	store := efivars.NewMemStore()
	class := uuid.New()
	b := &CoDBackend{
		Store:                  store,
		Volume:                 espvol.Volume{MountPoint: dir},
		Target:                 capsule.FixupTarget{FirmwareClass: class},
		StagedCapsuleBytes:     []byte("capsule bytes"),
		OsIndicationsSupported: osIndicationsFileCapsuleDeliverySupported,
		ACPIUEFIQuirkOK:        true,
	}
	result, err := b.Deliver()
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	want := filepath.Join(dir, "EFI", "UpdateCapsule", "fwupd-"+class.String()+".cap")
	if result.StagedPath != want {
		t.Errorf("got %q, want %q", result.StagedPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected file written: %v", err)
	}
	osInd, err := store.GetDataBytes(efivars.GlobalGUID, "OsIndications")
	if err != nil {
		t.Fatalf("GetDataBytes: %v", err)
	}
	if osInd[0]&osIndicationsFileCapsuleDeliverySupported == 0 {
		t.Error("expected OsIndications bit 2 to be set")
	}
}

func TestCoDBackendInsydeIndexedFilename(t *testing.T) {
	dir := t.TempDir()
	store := efivars.NewMemStore()
	os.MkdirAll(filepath.Join(dir, "EFI", "UpdateCapsule"), 0755)
	os.WriteFile(filepath.Join(dir, "EFI", "UpdateCapsule", "CapsuleUpdateFile0000.bin"), []byte("x"), 0644)

	b := &CoDBackend{
		Store:                  store,
		Volume:                 espvol.Volume{MountPoint: dir},
		Target:                 capsule.FixupTarget{FirmwareClass: uuid.New()},
		StagedCapsuleBytes:     []byte("capsule bytes"),
		OsIndicationsSupported: osIndicationsFileCapsuleDeliverySupported,
		ACPIUEFIQuirkOK:        true,
		Quirks:                 capsule.DeviceQuirks{CodIndexedFilename: true},
	}
	result, err := b.Deliver()
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	want := filepath.Join(dir, "EFI", "UpdateCapsule", "CapsuleUpdateFile0001.bin")
	if result.StagedPath != want {
		t.Errorf("got %q, want %q", result.StagedPath, want)
	}
}

func TestGRUBBackendDeliver(t *testing.T) {
	espDir := t.TempDir()
	stateDir := t.TempDir()
	srcDir := t.TempDir()
	fwupdSrc := filepath.Join(srcDir, "fwupd.efi")
	os.WriteFile(fwupdSrc, []byte("binary"), 0644)

	var calls []string
	b := NewGRUBBackend(espDir, filepath.Join(espDir, "fw.cap"), fwupdSrc, stateDir)
	b.runCommand = func(name string, args ...string) ([]byte, error) {
		calls = append(calls, name)
		return nil, nil
	}

	result, err := b.Deliver()
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if result.Kind != GRUBChainload {
		t.Errorf("kind = %v", result.Kind)
	}
	if len(calls) != 2 || calls[0] != "grub-mkconfig" || calls[1] != "grub-reboot" {
		t.Errorf("calls = %v, want [grub-mkconfig grub-reboot]", calls)
	}
	confPath := filepath.Join(stateDir, "uefi_capsule.conf")
	if _, err := os.Stat(confPath); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(espDir, "EFI", "fwupd", "fwupd.efi")); err != nil {
		t.Fatalf("expected fwupd.efi copied onto ESP: %v", err)
	}
}
