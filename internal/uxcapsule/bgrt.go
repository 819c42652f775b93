// Package uxcapsule composes the optional UX splash capsule that draws a
// localized "Installing firmware update…" bitmap during the pre-boot phase
// (spec.md §4.6).
package uxcapsule

import (
	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// CapsuleGUID identifies the UX capsule to the firmware, distinct from any
// device's own firmware_class.
var CapsuleGUID = uuid.MustParse("3b8c8162-188c-46a4-aec9-be43f1d65697")

// BGRT describes the platform's Boot Graphics Resource Table, read from
// /sys/firmware/acpi/bgrt on Linux.
type BGRT struct {
	Type    uint8
	Version uint8
	XOffset uint32
	YOffset uint32
	Width   uint32
	Height  uint32
}

// Supported reports whether the platform exposes a usable BGRT: type 0
// (bitmap), version 1, and a non-zero image size.
func (b BGRT) Supported() bool {
	return b.Type == 0 && b.Version == 1 && b.Width > 0 && b.Height > 0
}

// Resolutions is the fixed set of pre-rendered image sizes the vendor's tar
// archive of splash bitmaps ships, largest last.
var Resolutions = [][2]uint32{
	{640, 480},
	{800, 600},
	{1024, 768},
	{1920, 1080},
	{3840, 2160},
	{5120, 2880},
	{5688, 3200},
	{7680, 4320},
}

// SelectResolution returns the largest entry in Resolutions that fits
// within the given framebuffer, or an error if even the smallest does not.
func SelectResolution(fbWidth, fbHeight uint32) (width, height uint32, err error) {
	best := -1
	for i, r := range Resolutions {
		if r[0] <= fbWidth && r[1] <= fbHeight {
			best = i
		}
	}
	if best < 0 {
		return 0, 0, coreerr.New(coreerr.NotSupported, "framebuffer %dx%d too small for any available splash image", fbWidth, fbHeight)
	}
	return Resolutions[best][0], Resolutions[best][1], nil
}
