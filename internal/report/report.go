// Package report turns an ESRT entry's last_attempt_status, together with
// the boot-entry bookkeeping in internal/bootmgr, into the update_state the
// daemon reports to callers on the next startup after a capsule install
// (spec.md §4.8).
package report

import (
	"strconv"
	"strings"

	"github.com/fwupdcore/uefi-capsule-core/internal/bootmgr"
	"github.com/fwupdcore/uefi-capsule-core/internal/capsule"
	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/esrt"
)

// State is the outcome the daemon surfaces for one CapsuleTarget.
type State int

const (
	Success State = iota
	Failed
	FailedTransient
)

func (s State) String() string {
	switch s {
	case Success:
		return "success"
	case FailedTransient:
		return "failed-transient"
	default:
		return "failed"
	}
}

// stateForStatus is the table in spec.md §4.8.
func stateForStatus(status esrt.LastAttemptStatus) State {
	switch status {
	case esrt.Success:
		return Success
	case esrt.ErrPwrEvtAc, esrt.ErrPwrEvtBatt:
		return FailedTransient
	default:
		return Failed
	}
}

func noteForStatus(status esrt.LastAttemptStatus) string {
	switch status {
	case esrt.ErrPwrEvtAc:
		return "user should retry on AC power"
	case esrt.ErrPwrEvtBatt:
		return "user should retry with better battery charge"
	default:
		return ""
	}
}

// Result is what Report produces for one target.
type Result struct {
	State State
	Note  string
}

// Report implements spec.md §4.8: it inspects the ESRT's last_attempt_status
// for target, cross-checks the boot-entry bookkeeping when the firmware
// claims success, and clears UPDATE_INFO.status back to Unknown so the
// next install starts from a clean slate.
func Report(store efivars.Store, target esrt.CapsuleTarget, supportsBootOrderLock bool) (*Result, error) {
	result := &Result{
		State: stateForStatus(target.LastAttemptStatus),
		Note:  noteForStatus(target.LastAttemptStatus),
	}

	if target.LastAttemptStatus == esrt.Success {
		missing, err := bootEntryMissing(store)
		if err != nil {
			return nil, err
		}
		if missing {
			if supportsBootOrderLock {
				result.State = FailedTransient
				result.Note = "boot entry missing; perhaps Boot Order Lock enabled in the BIOS"
			} else {
				result.State = Failed
				result.Note = "boot entry missing"
			}
		}
	}

	if err := clearUpdateInfoStatus(store, target); err != nil {
		return nil, err
	}

	return result, nil
}

// bootEntryMissing implements bootmgr_verify_fwupd(): true when no BootXXXX
// entry carries either fwupd boot-entry description.
func bootEntryMissing(store efivars.Store) (bool, error) {
	names, err := store.GetNames(efivars.GlobalGUID)
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return true, nil
		}
		return false, err
	}
	for _, name := range names {
		if len(name) != 8 || !strings.HasPrefix(name, "Boot") {
			continue
		}
		slot, perr := strconv.ParseUint(name[4:], 16, 16)
		if perr != nil {
			continue
		}
		entry, err := store.GetBootEntry(uint16(slot))
		if err != nil {
			if coreerr.Is(err, coreerr.NotFound) {
				continue
			}
			return false, err
		}
		if entry.Description == bootmgr.DescriptionCurrent || entry.Description == bootmgr.DescriptionLegacy {
			return false, nil
		}
	}
	return true, nil
}

func clearUpdateInfoStatus(store efivars.Store, target esrt.CapsuleTarget) error {
	varName := updateInfoVarName(target)
	raw, err := store.GetDataBytes(efivars.FwupdGUID, varName)
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return nil
		}
		return err
	}
	info, err := capsule.ParseUpdateInfo(raw)
	if err != nil {
		return err
	}
	if info.Status == capsule.StatusUnknown {
		return nil
	}
	info.Status = capsule.StatusUnknown
	newRaw, err := info.Marshal()
	if err != nil {
		return err
	}
	if err := store.SetData(efivars.FwupdGUID, varName, newRaw, efivars.StandardAttrs); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "clear UPDATE_INFO status")
	}
	return nil
}

func updateInfoVarName(target esrt.CapsuleTarget) string {
	return "fwupd-" + target.FirmwareClass.String() + "-" + strconv.FormatUint(target.HardwareInstance, 10)
}
