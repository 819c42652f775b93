package bootmgr

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
)

func TestArchSuffix(t *testing.T) {
	cases := map[string]string{
		"amd64":   "x64",
		"arm64":   "aa64",
		"386":     "ia32",
		"arm":     "arm",
		"loong64": "loongarch64",
		"riscv64": "riscv64",
		"mips":    "mips",
	}
	for in, want := range cases {
		if got := ArchSuffix(in); got != want {
			t.Errorf("ArchSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindFwupdBinaryPrefersSigned(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "fwupx64.efi.signed"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "fwupx64.efi"), []byte("y"), 0644)
	got, err := FindFwupdBinary(dir, true, "x64")
	if err != nil {
		t.Fatalf("FindFwupdBinary: %v", err)
	}
	if filepath.Base(got) != "fwupx64.efi.signed" {
		t.Errorf("got %q, want signed variant", got)
	}
}

func TestFindFwupdBinaryRequiresSignedUnderSecureBoot(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "fwupx64.efi"), []byte("y"), 0644)
	if _, err := FindFwupdBinary(dir, true, "x64"); err == nil {
		t.Fatal("expected BrokenSystem error when only the unsigned binary exists under Secure Boot")
	}
}

func TestFindFwupdBinaryFallsBackUnsigned(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "fwupx64.efi"), []byte("y"), 0644)
	got, err := FindFwupdBinary(dir, false, "x64")
	if err != nil {
		t.Fatalf("FindFwupdBinary: %v", err)
	}
	if filepath.Base(got) != "fwupx64.efi" {
		t.Errorf("got %q", got)
	}
}

func TestRequireShimMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := RequireShim(dir, "x64"); err == nil {
		t.Fatal("expected BrokenSystem error when shim is missing")
	}
}

func TestParseBootSlot(t *testing.T) {
	slot, ok := parseBootSlot("Boot0A2F")
	if !ok || slot != 0x0a2f {
		t.Errorf("parseBootSlot = (%#x, %v), want (0xa2f, true)", slot, ok)
	}
	if _, ok := parseBootSlot("BootOrder"); ok {
		t.Error("BootOrder should not parse as a boot slot")
	}
}

func TestAllocateSlotPicksLowestUnused(t *testing.T) {
	store := efivars.NewMemStore()
	lo := &efivars.LoadOption{Description: "other entry"}
	data, _ := lo.Marshal()
	store.SetBootData(0x0000, data)
	store.SetBootData(0x0002, data)

	slot, existing, found, err := AllocateSlot(store, false)
	if err != nil {
		t.Fatalf("AllocateSlot: %v", err)
	}
	if found {
		t.Fatal("expected no existing fwupd entry")
	}
	if existing != nil {
		t.Error("existing should be nil when nothing was found")
	}
	if slot != 0x0001 {
		t.Errorf("slot = %#x, want 0x0001", slot)
	}
}

func TestAllocateSlotReusesExisting(t *testing.T) {
	store := efivars.NewMemStore()
	lo := &efivars.LoadOption{Description: DescriptionCurrent, DevicePath: []byte{1, 2, 3}}
	data, _ := lo.Marshal()
	store.SetBootData(0x0005, data)

	slot, existing, found, err := AllocateSlot(store, false)
	if err != nil {
		t.Fatalf("AllocateSlot: %v", err)
	}
	if !found || slot != 0x0005 {
		t.Fatalf("got slot=%#x found=%v, want 0x0005/true", slot, found)
	}
	if existing == nil || existing.Description != DescriptionCurrent {
		t.Error("expected existing entry to be returned")
	}
}

func TestWriteEntryIfChangedSkipsIdenticalPayload(t *testing.T) {
	store := efivars.NewMemStore()
	existing := &efivars.LoadOption{DevicePath: []byte{1, 2, 3}, OptionalData: []byte("x")}
	same := &efivars.LoadOption{DevicePath: []byte{1, 2, 3}, OptionalData: []byte("x")}
	if err := WriteEntryIfChanged(store, 0x0001, existing, same); err != nil {
		t.Fatalf("WriteEntryIfChanged: %v", err)
	}
	if _, err := store.GetBootEntry(0x0001); err == nil {
		t.Fatal("expected no write when device path and optional data are unchanged")
	}
}

func TestWriteEntryIfChangedWritesOnDifference(t *testing.T) {
	store := efivars.NewMemStore()
	existing := &efivars.LoadOption{DevicePath: []byte{1, 2, 3}}
	changed := &efivars.LoadOption{DevicePath: []byte{9, 9, 9}, Description: "new"}
	if err := WriteEntryIfChanged(store, 0x0001, existing, changed); err != nil {
		t.Fatalf("WriteEntryIfChanged: %v", err)
	}
	got, err := store.GetBootEntry(0x0001)
	if err != nil {
		t.Fatalf("GetBootEntry: %v", err)
	}
	if got.Description != "new" {
		t.Errorf("description = %q, want new", got.Description)
	}
}

func TestCleanupBootNextClearsMatchingSlot(t *testing.T) {
	store := efivars.NewMemStore()
	store.SetBootNext(0x0042)
	if err := CleanupBootNext(store, 0x0042); err != nil {
		t.Fatalf("CleanupBootNext: %v", err)
	}
	if _, err := store.GetBootNext(); err == nil {
		t.Fatal("expected BootNext to be deleted")
	}
}

func TestCleanupBootNextLeavesOtherSlotAlone(t *testing.T) {
	store := efivars.NewMemStore()
	store.SetBootNext(0x0099)
	if err := CleanupBootNext(store, 0x0042); err != nil {
		t.Fatalf("CleanupBootNext: %v", err)
	}
	next, err := store.GetBootNext()
	if err != nil {
		t.Fatalf("GetBootNext: %v", err)
	}
	if next != 0x0099 {
		t.Errorf("BootNext = %#x, want unchanged 0x0099", next)
	}
}

// buildSbatLevelSection assembles a raw .sbatlevel section with the
// previous/latest NUL-terminated CSV sub-images at the offsets its 8-byte
// header declares, matching the layout CheckSbatSafety parses.
func buildSbatLevelSection(previous, latest []byte) []byte {
	previousOff := uint32(8)
	latestOff := previousOff + uint32(len(previous)) + 1
	section := make([]byte, 8)
	binary.LittleEndian.PutUint32(section[0:4], previousOff)
	binary.LittleEndian.PutUint32(section[4:8], latestOff)
	section = append(section, previous...)
	section = append(section, 0)
	section = append(section, latest...)
	section = append(section, 0)
	return section
}

func TestParseSbatCSVAndSafetyCheck(t *testing.T) {
	current := []byte("sbat,1\nshim,2\ngrub,3\n")
	newer := buildSbatLevelSection([]byte("sbat,1\nshim,2\n"), []byte("sbat,2\nshim,3\n"))
	if err := CheckSbatSafety(newer, true, current); err != nil {
		t.Fatalf("expected safe update, got %v", err)
	}

	regressive := buildSbatLevelSection([]byte("shim,5\n"), []byte("shim,5\n"))
	if err := CheckSbatSafety(regressive, true, current); err == nil {
		t.Fatal("expected rejection for a generation higher than SbatLevelRT")
	}

	unknownComponent := buildSbatLevelSection([]byte("newcomponent,1\n"), []byte("newcomponent,1\n"))
	if err := CheckSbatSafety(unknownComponent, true, current); err == nil {
		t.Fatal("expected rejection for a component absent from SbatLevelRT")
	}

	if err := CheckSbatSafety(nil, false, current); err != nil {
		t.Fatalf("expected no check when sbatlevel section is absent, got %v", err)
	}
}

// TestCheckSbatSafetyRejectsScenario5 mirrors spec.md §8.2 scenario 5
// literally: SbatLevelRT pins shim at generation 3, the candidate shim's
// .sbatlevel/previous sub-image claims generation 4, and the candidate's
// "latest" sub-image is irrelevant to the decision.
func TestCheckSbatSafetyRejectsScenario5(t *testing.T) {
	currentRT := []byte("shim,3,2023010100\n")
	section := buildSbatLevelSection([]byte("shim,4,2024010100\n"), []byte("shim,9,2099010100\n"))
	if err := CheckSbatSafety(section, true, currentRT); err == nil {
		t.Fatal("expected InvalidFile rejection for a previous-generation bump past SbatLevelRT")
	}
}

func TestCheckSbatSafetyIgnoresLatestGeneration(t *testing.T) {
	currentRT := []byte("shim,3,2023010100\n")
	section := buildSbatLevelSection([]byte("shim,3,2023010100\n"), []byte("shim,99,2099010100\n"))
	if err := CheckSbatSafety(section, true, currentRT); err != nil {
		t.Fatalf("expected safe update when only the unchecked latest sub-image regresses, got %v", err)
	}
}
