package bootmgr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FindFwupdBinary locates the fwupd EFI application under appDir, per
// spec.md §4.4.1: the signed variant is always preferred, and required
// outright when Secure Boot is enabled.
func FindFwupdBinary(appDir string, secureBoot bool, archSuffix string) (string, error) {
	signed := filepath.Join(appDir, fmt.Sprintf("fwup%s.efi.signed", archSuffix))
	if fileExists(signed) {
		return signed, nil
	}
	if secureBoot {
		return "", coreerr.New(coreerr.BrokenSystem, "Secure Boot is enabled but no signed fwupd binary (%s) is available", signed)
	}
	unsigned := filepath.Join(appDir, fmt.Sprintf("fwup%s.efi", archSuffix))
	if fileExists(unsigned) {
		return unsigned, nil
	}
	return "", coreerr.New(coreerr.NotFound, "no fwupd EFI binary found under %s for arch %s", appDir, archSuffix)
}

// RequireShim verifies the ESP already carries a shim binary at
// espOSDir/shim<arch>.efi, as spec.md §4.4.2 step 1 requires before any
// boot entry can point through it.
func RequireShim(espOSDir, archSuffix string) (string, error) {
	path := filepath.Join(espOSDir, fmt.Sprintf("shim%s.efi", archSuffix))
	if !fileExists(path) {
		return "", coreerr.New(coreerr.BrokenSystem, "Secure Boot is enabled but %s is missing from the ESP", path)
	}
	return path, nil
}
