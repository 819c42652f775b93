package uxcapsule

import (
	"archive/tar"
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
)

func TestSelectResolutionPicksLargestFitting(t *testing.T) {
	w, h, err := SelectResolution(1920, 1080)
	if err != nil {
		t.Fatalf("SelectResolution: %v", err)
	}
	if w != 1920 || h != 1080 {
		t.Errorf("got %dx%d, want 1920x1080", w, h)
	}
}

func TestSelectResolutionBelowSmallest(t *testing.T) {
	if _, _, err := SelectResolution(320, 240); err == nil {
		t.Fatal("expected error for framebuffer smaller than smallest candidate")
	}
}

func TestSelectResolutionClampsToSmallerCandidate(t *testing.T) {
	w, h, err := SelectResolution(1280, 720)
	if err != nil {
		t.Fatalf("SelectResolution: %v", err)
	}
	if w != 800 || h != 600 {
		t.Errorf("got %dx%d, want 800x600 (largest fitting under 1280x720)", w, h)
	}
}

func TestComposeChecksumsToZero(t *testing.T) {
	bgrt := BGRT{Type: 0, Version: 1, XOffset: 100, YOffset: 200, Width: 800, Height: 600}
	bmpData := []byte{1, 2, 3, 4, 5, 6, 7}
	out, err := Compose(1920, bgrt, BMPDimensions{Width: 800, Height: 600}, bmpData, 0)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	var total byte
	for _, b := range out {
		total += b
	}
	if total != 0 {
		t.Errorf("file byte sum = %d, want 0 mod 256", total)
	}
	if len(out) != capsuleHeaderLen+8+len(bmpData) {
		t.Errorf("len(out) = %d, want %d", len(out), capsuleHeaderLen+8+len(bmpData))
	}
}

func TestComposeRejectsOversizedBitmap(t *testing.T) {
	bgrt := BGRT{Type: 0, Version: 1}
	if _, err := Compose(640, bgrt, BMPDimensions{Width: 800, Height: 600}, []byte{1}, 0); err == nil {
		t.Fatal("expected error when bitmap wider than screen")
	}
}

func TestFetchFromArchive(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("bmp-bytes")
	if err := tw.WriteHeader(&tar.Header{Name: "1920x1080.bmp", Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	got, err := FetchFromArchive(buf.Bytes(), 1920, 1080)
	if err != nil {
		t.Fatalf("FetchFromArchive: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestFetchFromArchiveMissingEntry(t *testing.T) {
	var buf bytes.Buffer
	tar.NewWriter(&buf).Close()
	if _, err := FetchFromArchive(buf.Bytes(), 640, 480); err == nil {
		t.Fatal("expected error for missing archive entry")
	}
}

func TestStageSkipsWhenNoUxCapsuleQuirk(t *testing.T) {
	store := efivars.NewMemStore()
	vol := espvol.Volume{MountPoint: t.TempDir()}
	bgrt := BGRT{Type: 0, Version: 1, Width: 800, Height: 600}
	if _, err := Stage(store, vol, "fedora", bgrt, true, 1920, 1080, nil); err == nil {
		t.Fatal("expected NotSupported when NoUxCapsule quirk set")
	}
}

func TestStageSkipsWhenBGRTUnsupported(t *testing.T) {
	store := efivars.NewMemStore()
	vol := espvol.Volume{MountPoint: t.TempDir()}
	if _, err := Stage(store, vol, "fedora", BGRT{}, false, 1920, 1080, nil); err == nil {
		t.Fatal("expected NotSupported when BGRT unusable")
	}
}

func TestStageWritesFileAndVariable(t *testing.T) {
	store := efivars.NewMemStore()
	dir := t.TempDir()
	vol := espvol.Volume{MountPoint: dir, PartitionUUID: uuid.New()}

	var archive bytes.Buffer
	tw := tar.NewWriter(&archive)
	content := []byte("bmp-bytes")
	tw.WriteHeader(&tar.Header{Name: "1024x768.bmp", Size: int64(len(content))})
	tw.Write(content)
	tw.Close()

	bgrt := BGRT{Type: 0, Version: 1, XOffset: 10, YOffset: 20, Width: 100, Height: 50}
	result, err := Stage(store, vol, "fedora", bgrt, false, 1100, 800, archive.Bytes())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	wantPath := filepath.Join(dir, "EFI", "fedora", "fw", "fwupd-"+CapsuleGUID.String()+".cap")
	if result.StagedPath != wantPath {
		t.Errorf("got %q, want %q", result.StagedPath, wantPath)
	}
	if _, err := store.GetDataBytes(efivars.FwupdGUID, updateInfoVarName); err != nil {
		t.Fatalf("expected UPDATE_INFO variable written: %v", err)
	}
}
