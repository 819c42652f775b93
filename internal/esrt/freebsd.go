//go:build freebsd

package esrt

import (
	"os"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

func openDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotSupported, err, "open efi(4) device")
	}
	return f, nil
}

const efiDevicePath = "/dev/efi"

// efiESRTEntry mirrors struct efi_esrt_entry from <sys/efiio.h>.
type efiESRTEntry struct {
	FwClass            [16]byte
	FwType             uint32
	FwVersion          uint32
	LowestSupportedVer uint32
	CapsuleFlags       uint32
	LastAttemptVersion uint32
	LastAttemptStatus  uint32
}

const efiiocGetEsrt = 0xc0585008

// Enumerator reads ESRT entries via the efi(4) ioctl interface.
type Enumerator struct {
	DevicePath string
}

// NewEnumerator returns an Enumerator reading the real efi(4) ESRT ioctl.
func NewEnumerator() *Enumerator {
	return &Enumerator{DevicePath: efiDevicePath}
}

func (e *Enumerator) devicePath() string {
	if e.DevicePath != "" {
		return e.DevicePath
	}
	return efiDevicePath
}

// Enumerate queries EFIIOC_GET_ESRT and parses each returned entry.
func (e *Enumerator) Enumerate() ([]CapsuleTarget, error) {
	f, err := openDevice(e.devicePath())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	const maxEntries = 256
	buf := make([]efiESRTEntry, maxEntries)
	count := uint32(maxEntries)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), efiiocGetEsrt, uintptr(unsafe.Pointer(&count))); errno != 0 {
		return nil, coreerr.New(coreerr.NotSupported, "EFIIOC_GET_ESRT: %v", errno)
	}

	var targets []CapsuleTarget
	for i := uint32(0); i < count && i < maxEntries; i++ {
		entry := buf[i]
		class, err := uuid.FromBytes(entry.FwClass[:])
		if err != nil {
			return nil, coreerr.Wrap(coreerr.NotSupported, err, "fw_class is not a valid UUID")
		}
		status, err := lastAttemptStatusFromRaw(entry.LastAttemptStatus)
		if err != nil {
			return nil, err
		}
		target := CapsuleTarget{
			FirmwareClass:      class,
			Kind:               kindFromFwType(entry.FwType),
			CapsuleFlags:       entry.CapsuleFlags,
			FwVersion:          entry.FwVersion,
			FwVersionLowest:    entry.LowestSupportedVer,
			LastAttemptStatus:  status,
			LastAttemptVersion: entry.LastAttemptVersion,
			VersionFormat:      defaultVersionFormat,
		}
		if err := target.Validate(); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}
