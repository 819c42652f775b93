package bootmgr

import (
	"bytes"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
)

// DescriptionCurrent and DescriptionLegacy are the two BootEntry
// description strings this core recognizes as "the fwupd entry", per
// spec.md §4.4.4.
const (
	DescriptionCurrent = "Linux Firmware Updater"
	DescriptionLegacy  = "Linux-Firmware-Updater"
)

// candidateDescriptions returns the descriptions AllocateSlot should treat
// as already-ours, honoring the UseLegacyBootmgrDesc per-device flag.
func candidateDescriptions(useLegacy bool) []string {
	if useLegacy {
		return []string{DescriptionLegacy, DescriptionCurrent}
	}
	return []string{DescriptionCurrent}
}

// findExistingSlot scans every BootXXXX entry for one whose description
// matches a candidate, returning its slot number.
func findExistingSlot(store efivars.Store, useLegacy bool) (uint16, *efivars.LoadOption, bool, error) {
	candidates := candidateDescriptions(useLegacy)
	names, err := store.GetNames(efivars.GlobalGUID)
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	for _, name := range names {
		slot, ok := parseBootSlot(name)
		if !ok {
			continue
		}
		lo, err := store.GetBootEntry(slot)
		if err != nil {
			continue
		}
		for _, d := range candidates {
			if lo.Description == d {
				return slot, lo, true, nil
			}
		}
	}
	return 0, nil, false, nil
}

func parseBootSlot(name string) (uint16, bool) {
	if len(name) != 8 || name[:4] != "Boot" {
		return 0, false
	}
	var v uint16
	for _, c := range name[4:] {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint16(c - '0')
		case c >= 'A' && c <= 'F':
			v |= uint16(c-'A') + 10
		case c >= 'a' && c <= 'f':
			v |= uint16(c-'a') + 10
		default:
			return 0, false
		}
	}
	return v, true
}

// lowestUnusedSlot scans all existing Boot[0-9A-F]{4} variables and returns
// the lowest slot number with no corresponding variable.
func lowestUnusedSlot(store efivars.Store) (uint16, error) {
	names, err := store.GetNames(efivars.GlobalGUID)
	if err != nil && !coreerr.Is(err, coreerr.NotFound) {
		return 0, err
	}
	used := make(map[uint16]bool, len(names))
	for _, name := range names {
		if slot, ok := parseBootSlot(name); ok {
			used[slot] = true
		}
	}
	for slot := uint16(0); slot < 0xffff; slot++ {
		if !used[slot] {
			return slot, nil
		}
	}
	return 0, coreerr.New(coreerr.Internal, "no unused BootXXXX slot available")
}

// AllocateSlot implements spec.md §4.4.4: reuse an existing fwupd entry's
// slot if one exists, allocating the lowest unused slot otherwise. It
// returns the slot and whether an existing entry was found.
func AllocateSlot(store efivars.Store, useLegacy bool) (slot uint16, existing *efivars.LoadOption, found bool, err error) {
	slot, existing, found, err = findExistingSlot(store, useLegacy)
	if err != nil {
		return 0, nil, false, err
	}
	if found {
		return slot, existing, true, nil
	}
	slot, err = lowestUnusedSlot(store)
	if err != nil {
		return 0, nil, false, err
	}
	return slot, nil, false, nil
}

// WriteEntryIfChanged writes the BootXXXX payload only when no existing
// entry occupies the slot, or its device path and optional data differ
// from what is being installed (spec.md §4.4.4's "overwritten only if the
// new device path + optional_data differ").
func WriteEntryIfChanged(store efivars.Store, slot uint16, existing *efivars.LoadOption, newEntry *efivars.LoadOption) error {
	if existing != nil &&
		bytes.Equal(existing.DevicePath, newEntry.DevicePath) &&
		bytes.Equal(existing.OptionalData, newEntry.OptionalData) {
		return nil
	}
	data, err := newEntry.Marshal()
	if err != nil {
		return err
	}
	return store.SetBootData(slot, data)
}

// ApplyBootOrderAndNext implements spec.md §4.4.5.
func ApplyBootOrderAndNext(store efivars.Store, slot uint16, modifyBootOrder bool) error {
	if modifyBootOrder {
		if err := efivars.AddToBootOrder(store, slot); err != nil {
			return err
		}
	}
	return store.SetBootNext(slot)
}

// CleanupBootNext implements spec.md §4.4.6: if BootNext still references
// the fwupd slot after a reboot, clear it so a firmware bug that leaves it
// set does not force the updater on every subsequent boot.
func CleanupBootNext(store efivars.Store, fwupdSlot uint16) error {
	current, err := store.GetBootNext()
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return nil
		}
		return err
	}
	if current != fwupdSlot {
		return nil
	}
	return store.Delete(efivars.GlobalGUID, "BootNext")
}
