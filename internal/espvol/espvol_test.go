package espvol

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMounts(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mounts")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write mounts fixture: %v", err)
	}
	return path
}

func TestFindMountedDevice(t *testing.T) {
	path := writeMounts(t,
		"/dev/sda2 / ext4 rw,relatime 0 0",
		"/dev/sda1 /boot/efi vfat rw,relatime 0 0",
	)
	dev, err := FindMountedDevice(path, "/boot/efi")
	if err != nil {
		t.Fatalf("FindMountedDevice: %v", err)
	}
	if dev != "/dev/sda1" {
		t.Errorf("device = %q, want /dev/sda1", dev)
	}
}

func TestFindMountedDeviceNotFound(t *testing.T) {
	path := writeMounts(t, "/dev/sda2 / ext4 rw,relatime 0 0")
	if _, err := FindMountedDevice(path, "/boot/efi"); err == nil {
		t.Fatal("expected NotFound for an unmounted path")
	}
}

func TestSplitPartitionDevice(t *testing.T) {
	cases := []struct {
		in       string
		wantDisk string
		wantNum  uint32
	}{
		{"/dev/sda1", "/dev/sda", 1},
		{"/dev/sda12", "/dev/sda", 12},
		{"/dev/nvme0n1p1", "/dev/nvme0n1", 1},
		{"/dev/loop0p2", "/dev/loop0", 2},
	}
	for _, c := range cases {
		disk, num, err := splitPartitionDevice(c.in)
		if err != nil {
			t.Errorf("splitPartitionDevice(%q): %v", c.in, err)
			continue
		}
		if disk != c.wantDisk || num != c.wantNum {
			t.Errorf("splitPartitionDevice(%q) = (%q, %d), want (%q, %d)", c.in, disk, num, c.wantDisk, c.wantNum)
		}
	}
}

func TestSplitPartitionDeviceRejectsNonPartition(t *testing.T) {
	if _, _, err := splitPartitionDevice("/dev/sda"); err == nil {
		t.Fatal("expected error for a whole-disk device with no trailing number")
	}
}

func TestLockerAcquireReleaseMountsOnlyOnce(t *testing.T) {
	var mountCalls, umountCalls int
	l := &Locker{
		MountPoint: "/boot/efi",
		DevicePath: "/dev/sda1",
		MountsPath: writeMounts(t, "/dev/sda2 / ext4 rw 0 0"),
		runMount: func(device, target string) error {
			mountCalls++
			return nil
		},
		runUmount: func(target string) error {
			umountCalls++
			return nil
		},
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if mountCalls != 1 {
		t.Errorf("mountCalls = %d, want 1", mountCalls)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if umountCalls != 0 {
		t.Errorf("umountCalls = %d, want 0 before final release", umountCalls)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("final Release: %v", err)
	}
	if umountCalls != 1 {
		t.Errorf("umountCalls = %d, want 1", umountCalls)
	}
}

func TestLockerLeavesPreExistingMountAlone(t *testing.T) {
	var mountCalls, umountCalls int
	l := &Locker{
		MountPoint: "/boot/efi",
		DevicePath: "/dev/sda1",
		MountsPath: writeMounts(t, "/dev/sda1 /boot/efi vfat rw 0 0"),
		runMount: func(device, target string) error {
			mountCalls++
			return nil
		},
		runUmount: func(target string) error {
			umountCalls++
			return nil
		},
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mountCalls != 0 || umountCalls != 0 {
		t.Errorf("mountCalls=%d umountCalls=%d, want 0/0 for a pre-existing mount", mountCalls, umountCalls)
	}
}
