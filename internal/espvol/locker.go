package espvol

import (
	"os/exec"
	"sync"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// Locker ensures the ESP is mounted for the duration of a staging operation
// without disturbing a mount the rest of the system already set up. Acquire
// mounts the ESP only if it is not already mounted; Release unmounts only
// if this Locker performed the mount. Multiple overlapping Acquire calls
// are reference-counted.
type Locker struct {
	MountPoint string
	DevicePath string // block device to mount if MountPoint is not already a mount

	mu          sync.Mutex
	refs        int
	mountedByUs bool

	// MountsPath is the /proc/mounts path to consult; overridable in tests.
	MountsPath string

	// runMount/runUmount are overridable in tests so Acquire/Release can be
	// exercised without invoking the real mount(8)/umount(8) tools.
	runMount  func(device, target string) error
	runUmount func(target string) error
}

// NewLocker returns a Locker that shells out to mount(8)/umount(8), the
// same indirection the teacher's install path uses for loop-device setup.
func NewLocker(mountPoint, devicePath string) *Locker {
	return &Locker{
		MountPoint: mountPoint,
		DevicePath: devicePath,
		MountsPath: "/proc/mounts",
		runMount:   execMount,
		runUmount:  execUmount,
	}
}

func execMount(device, target string) error {
	cmd := exec.Command("mount", device, target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return coreerr.Wrapf(coreerr.Write, err, "mount %s %s: %s", device, target, out)
	}
	return nil
}

func execUmount(target string) error {
	cmd := exec.Command("umount", target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return coreerr.Wrapf(coreerr.Write, err, "umount %s: %s", target, out)
	}
	return nil
}

func (l *Locker) isMounted() (bool, error) {
	if _, err := FindMountedDevice(l.MountsPath, l.MountPoint); err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Acquire guarantees the ESP is mounted when it returns, mounting it itself
// only if nothing was mounted at MountPoint already.
func (l *Locker) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs > 0 {
		l.refs++
		return nil
	}

	mounted, err := l.isMounted()
	if err != nil {
		return err
	}
	if !mounted {
		if err := l.runMount(l.DevicePath, l.MountPoint); err != nil {
			return err
		}
		l.mountedByUs = true
	}
	l.refs = 1
	return nil
}

// Release drops one reference; once the count reaches zero it unmounts the
// ESP if and only if this Locker was the one that mounted it.
func (l *Locker) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		return coreerr.New(coreerr.Internal, "Release called without a matching Acquire")
	}
	l.refs--
	if l.refs > 0 {
		return nil
	}
	if l.mountedByUs {
		if err := l.runUmount(l.MountPoint); err != nil {
			return err
		}
		l.mountedByUs = false
	}
	return nil
}
