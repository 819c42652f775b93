package backend

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// GRUBBackend implements spec.md §4.5.3: the capsule is staged at the
// usual NVRAM-style path, fwupd.efi is copied onto the ESP, a small config
// file records where both live, and grub-mkconfig/grub-reboot are invoked
// to chainload it. Neither BootOrder nor BootNext is touched.
type GRUBBackend struct {
	Volume            string // ESP mount point
	StagedCapsulePath string // absolute path already written by internal/capsule
	FwupdBinarySrc    string // host-side fwupd.efi to copy onto the ESP
	LocalStateDir     string // directory holding uefi_capsule.conf

	// runCommand defaults to exec.Command via os/exec; overridable in
	// tests so Deliver can be exercised without invoking grub-mkconfig.
	runCommand func(name string, args ...string) ([]byte, error)
}

// NewGRUBBackend returns a GRUBBackend that shells out to the real
// grub-mkconfig/grub-reboot tools.
func NewGRUBBackend(espMount, stagedCapsulePath, fwupdBinarySrc, localStateDir string) *GRUBBackend {
	return &GRUBBackend{
		Volume:            espMount,
		StagedCapsulePath: stagedCapsulePath,
		FwupdBinarySrc:    fwupdBinarySrc,
		LocalStateDir:     localStateDir,
		runCommand:        runExec,
	}
}

func runExec(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

func (b *GRUBBackend) Kind() Kind { return GRUBChainload }

func (b *GRUBBackend) Deliver() (*Result, error) {
	fwupdDst := filepath.Join(b.Volume, "EFI", "fwupd", "fwupd.efi")
	if err := copyFileWithParents(b.FwupdBinarySrc, fwupdDst); err != nil {
		return nil, err
	}

	confPath := filepath.Join(b.LocalStateDir, "uefi_capsule.conf")
	conf := fmt.Sprintf("EFI_PATH=%s\nESP=%s\n", fwupdDst, b.Volume)
	if err := os.MkdirAll(b.LocalStateDir, 0755); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "create grub capsule config directory")
	}
	if err := os.WriteFile(confPath, []byte(conf), 0644); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "write uefi_capsule.conf")
	}

	if out, err := b.runCommand("grub-mkconfig"); err != nil {
		return nil, coreerr.Wrapf(coreerr.Write, err, "grub-mkconfig: %s", out)
	}
	if out, err := b.runCommand("grub-reboot", "fwupd"); err != nil {
		return nil, coreerr.Wrapf(coreerr.Write, err, "grub-reboot fwupd: %s", out)
	}

	return &Result{Kind: GRUBChainload, StagedPath: b.StagedCapsulePath, Detail: "grub-reboot fwupd scheduled"}, nil
}

func copyFileWithParents(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "create ESP directory")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return coreerr.Wrap(coreerr.Write, err, "read fwupd.efi source")
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "write fwupd.efi to ESP")
	}
	return nil
}
