package bootmgr

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// InstallShimIfAvailable implements spec.md §4.4.2 step 2: if the host
// provides an updated, signed shim, it is copied over the ESP's shim only
// after CheckSbatSafety passes. It returns the shim path InstallShimIfAvailable left
// in place (the updated one if copied, the existing one otherwise).
func InstallShimIfAvailable(hostAppDir, espOSDir, archSuffix string, secureBootGUIDVar []byte) (string, error) {
	existingShim, err := RequireShim(espOSDir, archSuffix)
	if err != nil {
		return "", err
	}

	updated := filepath.Join(hostAppDir, fmt.Sprintf("shim%s.efi.signed", archSuffix))
	if !fileExists(updated) {
		return existingShim, nil
	}

	sbatData, present, err := ExtractSbatLevelSection(updated)
	if err != nil {
		return "", err
	}
	if err := CheckSbatSafety(sbatData, present, secureBootGUIDVar); err != nil {
		return "", err
	}

	if err := copyFile(updated, existingShim); err != nil {
		return "", coreerr.Wrap(coreerr.Write, err, "install updated shim")
	}
	return existingShim, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
