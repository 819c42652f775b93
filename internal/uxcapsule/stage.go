package uxcapsule

import (
	"os"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/capsule"
	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/devpath"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
)

// updateInfoVarName is the fixed name of the UPDATE_INFO variable binding
// the UX splash capsule file to CapsuleGUID (spec.md §4.6).
const updateInfoVarName = "fwupd-ux-capsule"

// StageResult mirrors capsule.StageResult for the splash capsule.
type StageResult struct {
	StagedPath      string
	UpdateInfoBytes []byte
}

// Stage writes a composed UX capsule onto the ESP and binds it via a second
// UPDATE_INFO variable, skipping entirely when NoUxCapsule is set or the
// platform's BGRT is unusable.
func Stage(store efivars.Store, vol espvol.Volume, osDir string, bgrt BGRT, noUxCapsule bool, screenWidth, screenHeight uint32, fetchArchive []byte) (*StageResult, error) {
	if noUxCapsule {
		return nil, coreerr.New(coreerr.NotSupported, "device carries the NoUxCapsule quirk")
	}
	if !bgrt.Supported() {
		return nil, coreerr.New(coreerr.NotSupported, "platform BGRT is not usable")
	}

	width, height, err := SelectResolution(screenWidth, screenHeight)
	if err != nil {
		return nil, err
	}
	bmpData, err := FetchFromArchive(fetchArchive, width, height)
	if err != nil {
		return nil, err
	}

	capsuleBytes, err := Compose(screenWidth, bgrt, BMPDimensions{Width: width, Height: height}, bmpData, 0)
	if err != nil {
		return nil, err
	}

	relPath := filepath.Join("EFI", osDir, "fw", "fwupd-"+CapsuleGUID.String()+".cap")
	absPath := filepath.Join(vol.MountPoint, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "create UX capsule staging directory")
	}
	if err := os.WriteFile(absPath, capsuleBytes, 0644); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "write staged UX capsule")
	}

	devPathBytes, err := devpath.BuildESPPath(vol.HDInfo(), capsule.EFIRelativePath(relPath))
	if err != nil {
		return nil, err
	}

	info := capsule.UpdateInfo{
		GUID:       CapsuleGUID,
		Status:     capsule.StatusAttemptUpdate,
		DevicePath: devPathBytes,
	}
	infoBytes, err := info.Marshal()
	if err != nil {
		return nil, err
	}

	if err := store.SetData(efivars.FwupdGUID, updateInfoVarName, infoBytes, efivars.StandardAttrs); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "write UX capsule UPDATE_INFO variable")
	}

	return &StageResult{StagedPath: absPath, UpdateInfoBytes: infoBytes}, nil
}
