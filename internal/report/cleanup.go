package report

import (
	"os"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/bootmgr"
	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
)

// CleanupStaleState implements spec.md §5's "Resource cleanup on reboot":
// delete every staged capsule file, every fwupd UPDATE_INFO variable, and a
// stale BootNext pointing at the fwupd boot entry. Callers gate this behind
// their own RebootCleanup config flag (default true); this function always
// performs the cleanup when called.
func CleanupStaleState(store efivars.Store, espMount string) error {
	if err := deleteStagedCapsules(espMount); err != nil {
		return err
	}
	if err := store.DeleteWithGlob(efivars.FwupdGUID, "fwupd*-*"); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "delete stale UPDATE_INFO variables")
	}
	return clearStaleBootNext(store)
}

// deleteStagedCapsules removes <esp>/EFI/*/fw/fwupd*.cap.
func deleteStagedCapsules(espMount string) error {
	matches, err := filepath.Glob(filepath.Join(espMount, "EFI", "*", "fw", "fwupd*.cap"))
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "glob staged capsules")
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return coreerr.Wrapf(coreerr.Write, err, "remove staged capsule %s", path)
		}
	}
	return nil
}

func clearStaleBootNext(store efivars.Store) error {
	slot, err := store.GetBootNext()
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return nil
		}
		return err
	}
	entry, err := store.GetBootEntry(slot)
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return nil
		}
		return err
	}
	if entry.Description != bootmgr.DescriptionCurrent && entry.Description != bootmgr.DescriptionLegacy {
		return nil
	}
	if err := store.Delete(efivars.GlobalGUID, "BootNext"); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "clear stale BootNext")
	}
	return nil
}
