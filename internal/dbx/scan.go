package dbx

import (
	"os"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// espBinaryNames are the first- and second-stage loaders spec.md §4.7 says
// must survive a dbx update: shim, then whatever it chains to.
var espBinaryNames = []string{"shimx64.efi", "shimaa64.efi", "grubx64.efi", "grubaa64.efi"}

// ScanESPBinaries walks <esp>/EFI/<osDir> looking for the loaders in
// espBinaryNames, returning the absolute paths of whichever are present.
func ScanESPBinaries(espMount, osDir string) ([]string, error) {
	dir := filepath.Join(espMount, "EFI", osDir)
	var found []string
	for _, name := range espBinaryNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		} else if !os.IsNotExist(err) {
			return nil, coreerr.Wrapf(coreerr.Internal, err, "stat %s", path)
		}
	}
	return found, nil
}

// CheckNoRevocation implements spec.md §4.7 step 2: every currently
// installed ESP binary's Authenticode hash must be absent from the new
// dbx payload. The first binary that would be revoked is named in the
// returned error so the caller can tell the user which component to
// update first.
func CheckNoRevocation(newLists []SignatureList, espBinaries []string) error {
	hashes, err := HashAll(espBinaries)
	if err != nil {
		return err
	}
	for path, hash := range hashes {
		if ContainsSHA256(newLists, hash) {
			return coreerr.New(coreerr.NeedsUserAction,
				"installing this dbx update would revoke %s; update it before applying dbx", path)
		}
	}
	return nil
}
