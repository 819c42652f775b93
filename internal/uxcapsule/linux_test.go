//go:build linux

package uxcapsule

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBGRTFixture(t *testing.T, dir string, width, height int32) {
	t.Helper()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("type", "0\n")
	write("version", "1\n")
	write("xoffset", "10\n")
	write("yoffset", "20\n")

	bmp := make([]byte, 26)
	bmp[0], bmp[1] = 'B', 'M'
	put32 := func(off int, v int32) {
		bmp[off] = byte(v)
		bmp[off+1] = byte(v >> 8)
		bmp[off+2] = byte(v >> 16)
		bmp[off+3] = byte(v >> 24)
	}
	put32(18, width)
	put32(22, height)
	if err := os.WriteFile(filepath.Join(dir, "image"), bmp, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBGRTReaderReadsFixture(t *testing.T) {
	dir := t.TempDir()
	writeBGRTFixture(t, dir, 100, 50)

	r := &BGRTReader{BasePath: dir}
	bgrt, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := BGRT{Type: 0, Version: 1, XOffset: 10, YOffset: 20, Width: 100, Height: 50}
	if bgrt != want {
		t.Errorf("got %+v, want %+v", bgrt, want)
	}
	if !bgrt.Supported() {
		t.Error("expected fixture BGRT to be Supported")
	}
}

func TestBGRTReaderMissingDirectory(t *testing.T) {
	r := &BGRTReader{BasePath: filepath.Join(t.TempDir(), "does-not-exist")}
	if _, err := r.Read(); err == nil {
		t.Fatal("expected error for missing BGRT sysfs directory")
	}
}
