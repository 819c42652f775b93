//go:build linux

package uxcapsule

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

const defaultBGRTPath = "/sys/firmware/acpi/bgrt"

// BGRTReader reads the platform's Boot Graphics Resource Table from sysfs.
// BasePath defaults to /sys/firmware/acpi/bgrt; tests point it at a scratch
// directory carrying the same file layout.
type BGRTReader struct {
	BasePath string
}

// NewBGRTReader returns a BGRTReader backed by the real sysfs mount.
func NewBGRTReader() *BGRTReader {
	return &BGRTReader{BasePath: defaultBGRTPath}
}

func (r *BGRTReader) basePath() string {
	if r.BasePath != "" {
		return r.BasePath
	}
	return defaultBGRTPath
}

// Read returns the kernel's view of the BGRT, or a NotSupported error if the
// platform does not expose one (no ACPI BGRT, or it was blacklisted).
func (r *BGRTReader) Read() (BGRT, error) {
	base := r.basePath()
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return BGRT{}, coreerr.New(coreerr.NotSupported, "no BGRT exposed at %s", base)
	}

	typ, err := readUintFile(filepath.Join(base, "type"))
	if err != nil {
		return BGRT{}, err
	}
	version, err := readUintFile(filepath.Join(base, "version"))
	if err != nil {
		return BGRT{}, err
	}
	xoffset, err := readUintFile(filepath.Join(base, "xoffset"))
	if err != nil {
		return BGRT{}, err
	}
	yoffset, err := readUintFile(filepath.Join(base, "yoffset"))
	if err != nil {
		return BGRT{}, err
	}

	width, height, err := readBMPDimensions(filepath.Join(base, "image"))
	if err != nil {
		return BGRT{}, err
	}

	return BGRT{
		Type:    uint8(typ),
		Version: uint8(version),
		XOffset: uint32(xoffset),
		YOffset: uint32(yoffset),
		Width:   width,
		Height:  height,
	}, nil
}

func readUintFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, coreerr.Wrapf(coreerr.NotSupported, err, "read %s", path)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, coreerr.Wrapf(coreerr.InvalidFile, err, "parse %s", path)
	}
	return v, nil
}

// readBMPDimensions pulls width/height out of a BMP's 14-byte file header
// plus 40-byte DIB header, which is all the kernel's bgrt image blob is.
func readBMPDimensions(path string) (width, height uint32, err error) {
	f, ferr := os.Open(path)
	if ferr != nil {
		return 0, 0, coreerr.Wrapf(coreerr.NotSupported, ferr, "open %s", path)
	}
	defer f.Close()

	var hdr [26]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return 0, 0, coreerr.Wrapf(coreerr.InvalidFile, err, "read BMP header from %s", path)
	}
	if hdr[0] != 'B' || hdr[1] != 'M' {
		return 0, 0, coreerr.New(coreerr.InvalidFile, "%s is not a BMP", path)
	}

	width = uint32(hdr[18]) | uint32(hdr[19])<<8 | uint32(hdr[20])<<16 | uint32(hdr[21])<<24
	height = uint32(hdr[22]) | uint32(hdr[23])<<8 | uint32(hdr[24])<<16 | uint32(hdr[25])<<24
	return width, height, nil
}
