package capsule

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/devpath"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/esrt"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
)

// DeviceQuirks carries the per-device behavior flags spec.md §4.3-§4.5
// reference but which the ESRT itself does not expose; a host daemon is
// the external collaborator expected to populate these from its own quirk
// database.
type DeviceQuirks struct {
	NoCapsuleHeaderFixup  bool
	ModifyBootOrder       bool
	UseLegacyBootmgrDesc  bool
	NoUxCapsule           bool
	CodIndexedFilename    bool
	CodDellRecovery       bool
}

// DefaultQuirks derives the one flag spec.md §4.3.1 ties directly to
// firmware kind; every other flag defaults to false until a host
// collaborator overrides it.
func DefaultQuirks(kind esrt.Kind) DeviceQuirks {
	return DeviceQuirks{
		NoCapsuleHeaderFixup: kind == esrt.Fmp || kind == esrt.DellTpmFirmware,
	}
}

// FreeSpaceProvider reports bytes free on the filesystem mounted at path.
type FreeSpaceProvider func(path string) (uint64, error)

// StageResult is everything stage_capsule produces (spec.md §4.3).
type StageResult struct {
	StagedPath      string
	UpdateInfoName  string
	UpdateInfoBytes []byte
}

// StageCapsule implements the full §4.3 pipeline: header fixup, ESP
// free-space check, file write, and UPDATE_INFO variable write.
func StageCapsule(
	store efivars.Store,
	vol espvol.Volume,
	freeSpace FreeSpaceProvider,
	target esrt.CapsuleTarget,
	quirks DeviceQuirks,
	payload []byte,
	osDir string,
	requireFreeSpace uint64,
) (*StageResult, error) {
	fixed, err := FixupHeader(FixupTarget{
		FirmwareClass:        target.FirmwareClass,
		CapsuleFlags:         target.CapsuleFlags,
		NoCapsuleHeaderFixup: quirks.NoCapsuleHeaderFixup,
	}, payload, DefaultPageSize)
	if err != nil {
		return nil, err
	}

	if freeSpace != nil {
		free, err := freeSpace(vol.MountPoint)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.NotSupported, err, "check ESP free space")
		}
		need := RequiredFreeSpace(requireFreeSpace, len(fixed))
		if free < need {
			return nil, coreerr.New(coreerr.NotSupported, "ESP has %d bytes free, need %d", free, need)
		}
	}

	absPath := StagedAbsolutePath(vol.MountPoint, osDir, target.FirmwareClass)
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "create capsule staging directory")
	}
	if err := os.WriteFile(absPath, fixed, 0644); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "write staged capsule")
	}

	relPath := EFIRelativePath(StagedRelativePath(osDir, target.FirmwareClass))
	devPathBytes, err := devpath.BuildESPPath(vol.HDInfo(), relPath)
	if err != nil {
		return nil, err
	}

	info := UpdateInfo{
		GUID:         target.FirmwareClass,
		CapsuleFlags: target.CapsuleFlags,
		HwInst:       target.HardwareInstance,
		Status:       StatusAttemptUpdate,
		DevicePath:   devPathBytes,
	}
	infoBytes, err := info.Marshal()
	if err != nil {
		return nil, err
	}

	varName := fmt.Sprintf("fwupd-%s-%d", target.FirmwareClass, target.HardwareInstance)
	if err := store.SetData(efivars.FwupdGUID, varName, infoBytes, efivars.StandardAttrs); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "write UPDATE_INFO variable")
	}

	return &StageResult{StagedPath: absPath, UpdateInfoName: varName, UpdateInfoBytes: infoBytes}, nil
}
