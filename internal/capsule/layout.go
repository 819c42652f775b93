package capsule

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultFreeSpaceMargin is added on top of 2x the payload size when the
// caller does not configure require_esp_free_space (spec.md §4.3.2).
const DefaultFreeSpaceMargin = 20 * 1024 * 1024

// RequiredFreeSpace returns the ESP free-space threshold for a payload of
// payloadLen bytes: configured if nonzero, else 2*payloadLen + 20MiB.
func RequiredFreeSpace(configured uint64, payloadLen int) uint64 {
	if configured != 0 {
		return configured
	}
	return uint64(2*payloadLen) + DefaultFreeSpaceMargin
}

// StagedFileName is the capsule filename spec.md §4.3.3 defines, shared by
// the NVRAM and GRUB back-ends (Capsule-on-Disk uses its own naming, see
// internal/backend).
func StagedFileName(targetGUID uuid.UUID) string {
	return fmt.Sprintf("fwupd-%s.cap", targetGUID)
}

// StagedRelativePath returns the ESP-relative path (using '/' separators,
// the host filesystem convention) a capsule is written to.
func StagedRelativePath(osDir string, targetGUID uuid.UUID) string {
	return filepath.Join("EFI", osDir, "fw", StagedFileName(targetGUID))
}

// StagedAbsolutePath returns the absolute path under espMount.
func StagedAbsolutePath(espMount, osDir string, targetGUID uuid.UUID) string {
	return filepath.Join(espMount, StagedRelativePath(osDir, targetGUID))
}

// EFIRelativePath converts a host-style relative path (using the OS path
// separator) into the backslash-separated form EFI device paths use.
func EFIRelativePath(relPath string) string {
	out := make([]byte, 0, len(relPath)+1)
	out = append(out, '\\')
	for i := 0; i < len(relPath); i++ {
		c := relPath[i]
		if c == filepath.Separator {
			c = '\\'
		}
		out = append(out, c)
	}
	return string(out)
}
