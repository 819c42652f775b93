// Package esrt enumerates the EFI System Resource Table and models each
// entry as a CapsuleTarget, the device abstraction the rest of the core
// stages capsules against.
package esrt

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// Kind classifies an ESRT entry's fw_type field.
type Kind int

const (
	Unknown Kind = iota
	SystemFirmware
	DeviceFirmware
	UefiDriver
	Fmp
	DellTpmFirmware
)

func (k Kind) String() string {
	switch k {
	case SystemFirmware:
		return "system-firmware"
	case DeviceFirmware:
		return "device-firmware"
	case UefiDriver:
		return "uefi-driver"
	case Fmp:
		return "fmp"
	case DellTpmFirmware:
		return "dell-tpm-firmware"
	default:
		return "unknown"
	}
}

// kindFromFwType maps the raw ESRT fw_type integer (UEFI spec §23.1,
// ESRT_FW_TYPE) to Kind. Anything outside the known range comes back
// Unknown rather than failing, per spec.md §4.2's rejection rules.
func kindFromFwType(fwType uint32) Kind {
	switch fwType {
	case 1:
		return SystemFirmware
	case 2:
		return DeviceFirmware
	case 3:
		return UefiDriver
	case 4:
		return Fmp
	default:
		return Unknown
	}
}

// LastAttemptStatus is the closed sum of outcomes the firmware reports for
// the previous UpdateCapsule() attempt against this entry.
type LastAttemptStatus int

const (
	Success LastAttemptStatus = iota
	ErrUnsuccessful
	ErrInsufficientResources
	ErrIncorrectVersion
	ErrInvalidFormat
	ErrAuthError
	ErrPwrEvtAc
	ErrPwrEvtBatt
)

func (s LastAttemptStatus) String() string {
	switch s {
	case Success:
		return "success"
	case ErrUnsuccessful:
		return "unsuccessful"
	case ErrInsufficientResources:
		return "insufficient-resources"
	case ErrIncorrectVersion:
		return "incorrect-version"
	case ErrInvalidFormat:
		return "invalid-format"
	case ErrAuthError:
		return "auth-error"
	case ErrPwrEvtAc:
		return "power-event-ac"
	case ErrPwrEvtBatt:
		return "power-event-battery"
	default:
		return "unknown"
	}
}

func lastAttemptStatusFromRaw(v uint32) (LastAttemptStatus, error) {
	if v > uint32(ErrPwrEvtBatt) {
		return 0, coreerr.New(coreerr.InvalidData, "last_attempt_status %d is out of range", v)
	}
	return LastAttemptStatus(v), nil
}

// CapsuleTarget is one updatable firmware region discovered via the ESRT.
type CapsuleTarget struct {
	FirmwareClass      uuid.UUID
	Kind               Kind
	CapsuleFlags       uint32
	FwVersion          uint32
	FwVersionLowest    uint32
	LastAttemptStatus  LastAttemptStatus
	LastAttemptVersion uint32
	HardwareInstance   uint64

	// VersionFormat renders FwVersion/FwVersionLowest/LastAttemptVersion as
	// a display string. The default is a plain decimal integer; an
	// external collaborator may override this per spec.md §4.2's note
	// that version-format selection is not this core's concern.
	VersionFormat func(uint32) string
}

// Validate checks the invariants spec.md §3.1 assigns to CapsuleTarget.
func (t CapsuleTarget) Validate() error {
	if t.FirmwareClass == uuid.Nil {
		return coreerr.New(coreerr.NotSupported, "firmware_class is not a well-formed UUID")
	}
	if t.FwVersionLowest != 0 && t.FwVersionLowest > t.FwVersion {
		return coreerr.New(coreerr.InvalidData, "fw_version_lowest %d exceeds fw_version %d", t.FwVersionLowest, t.FwVersion)
	}
	return nil
}

func defaultVersionFormat(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
