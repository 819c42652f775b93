//go:build linux

package esrt

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

const defaultESRTPath = "/sys/firmware/efi/esrt/entries"

// Enumerator reads ESRT entries from sysfs.
type Enumerator struct {
	// BasePath defaults to /sys/firmware/efi/esrt/entries; tests point it
	// at a scratch directory built with the same one-file-per-attribute
	// layout the kernel exposes.
	BasePath string
}

// NewEnumerator returns an Enumerator reading the real ESRT sysfs tree.
func NewEnumerator() *Enumerator {
	return &Enumerator{BasePath: defaultESRTPath}
}

func (e *Enumerator) basePath() string {
	if e.BasePath != "" {
		return e.BasePath
	}
	return defaultESRTPath
}

func readAttrHex(dir, name string) (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return 0, coreerr.Wrap(coreerr.NotSupported, err, "read "+name)
	}
	s := strings.TrimSpace(string(raw))
	var v uint64
	if strings.HasPrefix(s, "0x") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		// Some kernels render fw_class-adjacent integers in decimal.
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, coreerr.Wrapf(coreerr.InvalidData, err, "parse %s", name)
	}
	return v, nil
}

// Enumerate lists every ESRT entry directory and parses it into a
// CapsuleTarget.
func (e *Enumerator) Enumerate() ([]CapsuleTarget, error) {
	entries, err := os.ReadDir(e.basePath())
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotSupported, err, "read esrt entries directory")
	}

	var targets []CapsuleTarget
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		dir := filepath.Join(e.basePath(), ent.Name())
		target, err := parseEntry(dir)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func parseEntry(dir string) (CapsuleTarget, error) {
	classRaw, err := os.ReadFile(filepath.Join(dir, "fw_class"))
	if err != nil {
		return CapsuleTarget{}, coreerr.Wrap(coreerr.NotSupported, err, "read fw_class")
	}
	class, err := uuid.Parse(strings.TrimSpace(string(classRaw)))
	if err != nil {
		return CapsuleTarget{}, coreerr.Wrap(coreerr.NotSupported, err, "fw_class is not a valid UUID")
	}

	fwType, err := readAttrHex(dir, "fw_type")
	if err != nil {
		return CapsuleTarget{}, err
	}
	fwVersion, err := readAttrHex(dir, "fw_version")
	if err != nil {
		return CapsuleTarget{}, err
	}
	fwVersionLowest, err := readAttrHex(dir, "lowest_supported_fw_version")
	if err != nil {
		return CapsuleTarget{}, err
	}
	capsuleFlags, err := readAttrHex(dir, "capsule_flags")
	if err != nil {
		return CapsuleTarget{}, err
	}
	lastAttemptStatusRaw, err := readAttrHex(dir, "last_attempt_status")
	if err != nil {
		return CapsuleTarget{}, err
	}
	lastAttemptStatus, err := lastAttemptStatusFromRaw(uint32(lastAttemptStatusRaw))
	if err != nil {
		return CapsuleTarget{}, err
	}
	lastAttemptVersion, err := readAttrHex(dir, "last_attempt_version")
	if err != nil {
		return CapsuleTarget{}, err
	}

	target := CapsuleTarget{
		FirmwareClass:      class,
		Kind:               kindFromFwType(uint32(fwType)),
		CapsuleFlags:       uint32(capsuleFlags),
		FwVersion:          uint32(fwVersion),
		FwVersionLowest:    uint32(fwVersionLowest),
		LastAttemptStatus:  lastAttemptStatus,
		LastAttemptVersion: uint32(lastAttemptVersion),
		VersionFormat:      defaultVersionFormat,
	}
	if err := target.Validate(); err != nil {
		return CapsuleTarget{}, err
	}
	return target, nil
}
