// Package backend implements the three ways a staged capsule can actually
// reach the firmware on reboot: NVRAM/BootNext, Capsule-on-Disk, and GRUB
// chainload (spec.md §4.5).
package backend

import (
	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// Kind selects which delivery mechanism a device uses.
type Kind int

const (
	NVRAM Kind = iota
	CapsuleOnDisk
	GRUBChainload
)

func (k Kind) String() string {
	switch k {
	case NVRAM:
		return "nvram"
	case CapsuleOnDisk:
		return "capsule-on-disk"
	case GRUBChainload:
		return "grub-chainload"
	default:
		return "unknown"
	}
}

// Result reports what a backend actually did, for the install-time log.
type Result struct {
	Kind       Kind
	StagedPath string
	Detail     string
}

// Backend delivers an already-staged capsule so the firmware applies it on
// next boot.
type Backend interface {
	Kind() Kind
	Deliver() (*Result, error)
}

// errUnsupported is returned by a backend's Deliver when its platform
// preconditions are not met, matching spec.md's instruction to fail
// closed rather than silently falling back to another backend.
func errUnsupported(format string, args ...any) error {
	return coreerr.New(coreerr.NotSupported, format, args...)
}
