package backend

import (
	"github.com/fwupdcore/uefi-capsule-core/internal/bootmgr"
	"github.com/fwupdcore/uefi-capsule-core/internal/capsule"
	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/devpath"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
)

// NVRAMBackend implements spec.md §4.5.1: the staged capsule plus a
// BootXXXX entry pointing at fwupd (or shim, under Secure Boot), with
// BootNext set to it. Under Secure Boot an updated shim may be copied over
// the ESP's shim; no other ESP files are written.
type NVRAMBackend struct {
	Store         efivars.Store
	Volume        espvol.Volume
	OSDir         string
	SecureBoot    bool
	ArchSuffix    string
	HostAppDir    string // directory containing fwup<arch>.efi[.signed]
	Quirks        capsule.DeviceQuirks
	StagedCapsule *capsule.StageResult
}

func (b *NVRAMBackend) Kind() Kind { return NVRAM }

// Deliver implements spec.md §4.4's boot-entry wiring on top of an already
// staged capsule (see internal/capsule.StageCapsule).
func (b *NVRAMBackend) Deliver() (*Result, error) {
	if b.StagedCapsule == nil {
		return nil, errUnsupported("NVRAM backend requires a staged capsule")
	}

	espOSDir := b.Volume.MountPoint + "/EFI/" + b.OSDir
	loaderPath, err := bootmgr.FindFwupdBinary(b.HostAppDir, b.SecureBoot, b.ArchSuffix)
	if err != nil {
		return nil, err
	}

	targetBinary := loaderPath
	var optionalData []byte
	if b.SecureBoot {
		sbatLevelRT, err := b.Store.GetDataBytes(efivars.ShimGUID, "SbatLevelRT")
		if err != nil && !coreerr.Is(err, coreerr.NotFound) {
			return nil, err
		}
		shimPath, err := bootmgr.InstallShimIfAvailable(b.HostAppDir, espOSDir, b.ArchSuffix, sbatLevelRT)
		if err != nil {
			return nil, err
		}
		targetBinary = shimPath
		optionalData = []byte(loaderPath)
	}

	relLoaderPath := capsule.EFIRelativePath(relativeToESP(b.Volume.MountPoint, targetBinary))
	devPathBytes, err := devpath.BuildESPPath(b.Volume.HDInfo(), relLoaderPath)
	if err != nil {
		return nil, err
	}

	newEntry := &efivars.LoadOption{
		Attributes:   1, // LOAD_OPTION_ACTIVE
		Description:  bootmgr.DescriptionCurrent,
		DevicePath:   devPathBytes,
		OptionalData: optionalData,
	}
	if b.Quirks.UseLegacyBootmgrDesc {
		newEntry.Description = bootmgr.DescriptionLegacy
	}

	slot, existing, _, err := bootmgr.AllocateSlot(b.Store, b.Quirks.UseLegacyBootmgrDesc)
	if err != nil {
		return nil, err
	}
	if err := bootmgr.WriteEntryIfChanged(b.Store, slot, existing, newEntry); err != nil {
		return nil, err
	}
	if err := bootmgr.ApplyBootOrderAndNext(b.Store, slot, b.Quirks.ModifyBootOrder); err != nil {
		return nil, err
	}

	return &Result{Kind: NVRAM, StagedPath: b.StagedCapsule.StagedPath, Detail: "BootNext set"}, nil
}

// relativeToESP strips the ESP mount point prefix from an absolute path,
// returning a host-style relative path.
func relativeToESP(mountPoint, absPath string) string {
	if len(absPath) > len(mountPoint) && absPath[:len(mountPoint)] == mountPoint {
		return absPath[len(mountPoint)+1:]
	}
	return absPath
}
