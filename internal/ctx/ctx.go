// Package ctx assembles the capsule core's collaborators into a single
// core-scoped context object, so a caller (the daemon, a test, capsulectl)
// can construct an isolated core with an in-memory variable store and a
// scratch ESP instead of reaching for module-level singletons (spec.md §9,
// "No global state").
package ctx

import (
	"context"

	"github.com/fwupdcore/uefi-capsule-core/internal/backend"
	"github.com/fwupdcore/uefi-capsule-core/internal/bootmgr"
	"github.com/fwupdcore/uefi-capsule-core/internal/capsule"
	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/dbx"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/esrt"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
	"github.com/fwupdcore/uefi-capsule-core/internal/report"
	"github.com/fwupdcore/uefi-capsule-core/internal/uxcapsule"
)

// Platform carries the host facts that are not themselves part of the EFI
// variable store but that every back-end needs: Secure Boot state, the
// architecture suffix, where the host ships fwupd's own EFI binaries, and
// which OS-specific ESP subdirectory to use. A real daemon populates this
// from its own distro/arch detection; tests populate it by hand.
type Platform struct {
	OSDir            string
	ArchSuffix       string
	SecureBoot       bool
	HostAppDir       string // directory holding fwup<arch>.efi[.signed], shim<arch>.efi.signed
	LocalStateDir    string // for the GRUB back-end's uefi_capsule.conf
	FwupdBinarySrc   string // host-side fwupd.efi for the GRUB back-end
	RequireFreeSpace uint64
}

// Core bundles the EFI variable store, the ESP, the host platform facts,
// and the dbx snapd notifier into one object every operation in this
// module is a method of (or a free function taking one), so nothing here
// reaches for a process-global singleton.
type Core struct {
	Store    efivars.Store
	Volume   espvol.Volume
	Locker   *espvol.Locker
	Platform Platform

	FreeSpace     capsule.FreeSpaceProvider
	SnapdNotifier *dbx.SnapdNotifier
}

// New builds a Core from already-resolved collaborators. Callers on Linux
// typically pass efivars.NewLinuxStore(), an espvol.Discover result, and a
// Locker from espvol.NewLocker(); tests pass efivars.NewMemStore() and a
// Volume pointed at a t.TempDir().
// Callers are expected to set FreeSpace themselves (e.g. espvol.FreeSpace on
// Linux) since the statfs-based default is platform-specific and this
// package stays neutral.
func New(store efivars.Store, vol espvol.Volume, locker *espvol.Locker, platform Platform) *Core {
	return &Core{
		Store:    store,
		Volume:   vol,
		Locker:   locker,
		Platform: platform,
	}
}

// InstallResult is what Install returns on success.
type InstallResult struct {
	Staged  *capsule.StageResult
	Backend *backend.Result
}

// Install runs the full install path from spec.md's data-flow diagram:
// acquire the ESP, stage the capsule (header fixup, free-space check, ESP
// write, UPDATE_INFO write), then hand off to the chosen delivery
// back-end. The ESP lock is released on every exit path.
func (c *Core) Install(target esrt.CapsuleTarget, quirks capsule.DeviceQuirks, payload []byte, kind backend.Kind) (*InstallResult, error) {
	if c.Locker != nil {
		if err := c.Locker.Acquire(); err != nil {
			return nil, err
		}
		defer c.Locker.Release()
	}

	staged, err := capsule.StageCapsule(
		c.Store, c.Volume, c.FreeSpace, target, quirks, payload,
		c.Platform.OSDir, c.Platform.RequireFreeSpace,
	)
	if err != nil {
		return nil, err
	}

	be, err := c.buildBackend(kind, target, quirks, staged)
	if err != nil {
		return nil, err
	}
	result, err := be.Deliver()
	if err != nil {
		return nil, err
	}

	return &InstallResult{Staged: staged, Backend: result}, nil
}

func (c *Core) buildBackend(kind backend.Kind, target esrt.CapsuleTarget, quirks capsule.DeviceQuirks, staged *capsule.StageResult) (backend.Backend, error) {
	switch kind {
	case backend.NVRAM:
		return &backend.NVRAMBackend{
			Store:         c.Store,
			Volume:        c.Volume,
			OSDir:         c.Platform.OSDir,
			SecureBoot:    c.Platform.SecureBoot,
			ArchSuffix:    c.Platform.ArchSuffix,
			HostAppDir:    c.Platform.HostAppDir,
			Quirks:        quirks,
			StagedCapsule: staged,
		}, nil
	case backend.GRUBChainload:
		return backend.NewGRUBBackend(c.Volume.MountPoint, staged.StagedPath, c.Platform.FwupdBinarySrc, c.Platform.LocalStateDir), nil
	case backend.CapsuleOnDisk:
		return nil, coreerr.New(coreerr.NotSupported, "Capsule-on-Disk back-end requires OsIndications/ACPI UEFI quirk probing outside Core.Install; construct backend.CoDBackend directly")
	default:
		return nil, coreerr.New(coreerr.Internal, "unknown backend kind %v", kind)
	}
}

// Report reads back the outcome of a previous install for target and
// clears its UPDATE_INFO status, per spec.md §4.8.
func (c *Core) Report(target esrt.CapsuleTarget, supportsBootOrderLock bool) (*report.Result, error) {
	return report.Report(c.Store, target, supportsBootOrderLock)
}

// Cleanup removes stale staged capsules, UPDATE_INFO variables, and a
// stray BootNext left over from a previous boot (spec.md §5).
func (c *Core) Cleanup() error {
	return report.CleanupStaleState(c.Store, c.Volume.MountPoint)
}

// BootNext returns the boot slot a fwupd entry would use in this Core's
// store: the slot of an existing fwupd entry, or else the lowest unused
// one. It writes no Boot#### entry and changes neither BootOrder nor
// BootNext.
func (c *Core) BootNext(quirks capsule.DeviceQuirks) (uint16, error) {
	slot, _, _, err := bootmgr.AllocateSlot(c.Store, quirks.UseLegacyBootmgrDesc)
	return slot, err
}

// ApplyDbx parses, validates, and writes a new dbx payload, optionally
// coordinating with snapd (spec.md §4.7).
func (c *Core) ApplyDbx(parent context.Context, payload []byte, opts dbx.ApplyOptions) (*dbx.Report, error) {
	if opts.Notifier == nil {
		opts.Notifier = c.SnapdNotifier
	}
	if !opts.Verbose {
		opts.Verbose = dbx.VerboseFromEnv()
	}
	return dbx.Apply(parent, c.Store, payload, c.Volume.MountPoint, c.Platform.OSDir, opts)
}

// InstallUX composes and stages the optional UX splash capsule (spec.md
// §4.6), skipping entirely when the device carries NoUxCapsule or the
// platform BGRT is unusable — callers treat a NotSupported error here as
// "continue the install without a splash", never as a fatal install error.
func (c *Core) InstallUX(bgrt uxcapsule.BGRT, noUxCapsule bool, screenWidth, screenHeight uint32, splashArchive []byte) (*uxcapsule.StageResult, error) {
	return uxcapsule.Stage(c.Store, c.Volume, c.Platform.OSDir, bgrt, noUxCapsule, screenWidth, screenHeight, splashArchive)
}
