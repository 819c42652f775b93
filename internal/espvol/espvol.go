// Package espvol locates the EFI System Partition, resolves the GPT
// metadata the HD() device-path node needs, and provides a scoped mount
// locker so staging code can assume the ESP is writable without caring
// whether it was already mounted.
package espvol

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/diskfs/go-diskfs"
	diskpkg "github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/devpath"
)

// Volume describes the ESP the capsule core stages files onto, carrying
// everything needed to encode an HD() device path node pointing at it
// (spec.md §3.1 EspVolume).
type Volume struct {
	MountPoint      string
	ParentDisk      string // block device backing the partition, e.g. /dev/sda
	PartitionNumber uint32
	PartitionStart  uint64 // logical blocks
	PartitionSize   uint64 // logical blocks
	PartitionUUID   uuid.UUID
	DiskUUID        uuid.UUID
}

// HDInfo adapts Volume to the HD() node builder in internal/devpath.
func (v Volume) HDInfo() devpath.HDInfo {
	return devpath.HDInfo{
		PartitionNumber: v.PartitionNumber,
		PartitionStart:  v.PartitionStart,
		PartitionSize:   v.PartitionSize,
		PartitionUUID:   v.PartitionUUID,
	}
}

// mountEntry is one parsed line of /proc/mounts.
type mountEntry struct {
	device     string
	mountPoint string
}

func readMounts(path string) ([]mountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotSupported, err, "read mount table")
	}
	defer f.Close()

	var entries []mountEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, mountEntry{device: fields[0], mountPoint: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "scan mount table")
	}
	return entries, nil
}

// FindMountedDevice returns the block device currently mounted at
// mountPoint, reading /proc/mounts (overridable for tests via mountsPath).
func FindMountedDevice(mountsPath, mountPoint string) (string, error) {
	entries, err := readMounts(mountsPath)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.mountPoint == mountPoint {
			return e.device, nil
		}
	}
	return "", coreerr.New(coreerr.NotFound, "nothing mounted at %s", mountPoint)
}

// splitPartitionDevice separates a partition device node into its parent
// disk and 1-based partition number, handling both the plain-digit scheme
// (/dev/sda1) and the 'p'-separated scheme (/dev/nvme0n1p1, /dev/loop0p1).
func splitPartitionDevice(device string) (disk string, partNum uint32, err error) {
	i := len(device)
	for i > 0 && device[i-1] >= '0' && device[i-1] <= '9' {
		i--
	}
	if i == len(device) {
		return "", 0, coreerr.New(coreerr.InvalidData, "%s does not look like a partition device", device)
	}
	numStr := device[i:]
	n, convErr := strconv.ParseUint(numStr, 10, 32)
	if convErr != nil {
		return "", 0, coreerr.Wrap(coreerr.InvalidData, convErr, "parse partition number")
	}
	base := device[:i]
	if strings.HasSuffix(base, "p") && len(base) > 1 && base[len(base)-2] >= '0' && base[len(base)-2] <= '9' {
		base = base[:len(base)-1]
	}
	return base, uint32(n), nil
}

// Discover resolves the full GPT metadata for the ESP mounted at
// mountPoint, by reading the partition table of the block device backing
// it, grounded on the disk-inspection approach used elsewhere in this
// module's dependency pack for locating an EFI System Partition on a GPT
// disk.
func Discover(mountsPath, mountPoint string) (*Volume, error) {
	device, err := FindMountedDevice(mountsPath, mountPoint)
	if err != nil {
		return nil, err
	}
	parentDisk, partNum, err := splitPartitionDevice(device)
	if err != nil {
		return nil, err
	}

	disk, err := diskfs.Open(parentDisk, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotSupported, err, "open parent disk")
	}
	defer disk.Close()

	vol, err := volumeFromDisk(disk, parentDisk, partNum)
	if err != nil {
		return nil, err
	}
	vol.MountPoint = mountPoint
	return vol, nil
}

func volumeFromDisk(disk *diskpkg.Disk, parentDisk string, partNum uint32) (*Volume, error) {
	table, err := disk.GetPartitionTable()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotSupported, err, "read partition table")
	}
	gptTable, ok := table.(*gpt.Table)
	if !ok {
		return nil, coreerr.New(coreerr.NotSupported, "%s does not use a GPT partition table", parentDisk)
	}
	if int(partNum) < 1 || int(partNum) > len(gptTable.Partitions) {
		return nil, coreerr.New(coreerr.NotFound, "partition %d not present on %s", partNum, parentDisk)
	}
	part := gptTable.Partitions[partNum-1]
	if part == nil {
		return nil, coreerr.New(coreerr.NotFound, "partition %d is empty on %s", partNum, parentDisk)
	}

	partUUID, err := uuid.Parse(part.GUID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidData, err, "parse partition GUID")
	}
	diskUUID, err := uuid.Parse(gptTable.GUID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidData, err, "parse disk GUID")
	}

	sectorSize := uint64(gptTable.LogicalSectorSize)
	if sectorSize == 0 {
		sectorSize = 512
	}

	return &Volume{
		ParentDisk:      parentDisk,
		PartitionNumber: partNum,
		PartitionStart:  part.Start / sectorSize,
		PartitionSize:   part.Size / sectorSize,
		PartitionUUID:   partUUID,
		DiskUUID:        diskUUID,
	}, nil
}
