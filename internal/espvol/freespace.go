//go:build linux

package espvol

import (
	"golang.org/x/sys/unix"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// FreeSpace reports bytes free on the filesystem mounted at path, the
// capsule.FreeSpaceProvider this module's staging pipeline consults before
// writing to the ESP (spec.md §4.3.2).
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, coreerr.Wrapf(coreerr.NotSupported, err, "statfs %s", path)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil //nolint:unconvert
}
