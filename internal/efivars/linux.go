//go:build linux

package efivars

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	"golang.org/x/text/transform"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// Hardcoded ioctl request numbers for the ext2-family FS_IOC_GETFLAGS /
// FS_IOC_SETFLAGS pair efivarfs reuses to mark a variable file immutable.
const (
	fsIOCGetFlags = 0x80086601
	fsIOCSetFlags = 0x40086602
	fsImmutableFl = 0x00000010
)

const defaultEfivarfsPath = "/sys/firmware/efi/efivars"

// LinuxStore implements Store over a mounted efivarfs.
type LinuxStore struct {
	// BasePath defaults to /sys/firmware/efi/efivars; tests point it at a
	// scratch directory to avoid touching the real platform.
	BasePath string
}

// NewLinuxStore returns a Store backed by the real efivarfs mount.
func NewLinuxStore() *LinuxStore {
	return &LinuxStore{BasePath: defaultEfivarfsPath}
}

func (s *LinuxStore) basePath() string {
	if s.BasePath != "" {
		return s.BasePath
	}
	return defaultEfivarfsPath
}

func (s *LinuxStore) varPath(guid uuid.UUID, name string) string {
	return filepath.Join(s.basePath(), fmt.Sprintf("%s-%s", name, guid.String()))
}

// Supported reports whether the efivarfs directory exists and is a
// directory, which is what both `fu_efivar_supported` and the teacher's
// `IsUEFIBoot` check for.
func (s *LinuxStore) Supported() bool {
	info, err := os.Stat(s.basePath())
	return err == nil && info.IsDir()
}

func (s *LinuxStore) SpaceUsed() (uint64, error) {
	entries, err := os.ReadDir(s.basePath())
	if err != nil {
		return 0, coreerr.Wrap(coreerr.NotSupported, err, "read efivarfs directory")
	}
	var total uint64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += uint64(info.Size())
	}
	return total, nil
}

func (s *LinuxStore) GetData(guid uuid.UUID, name string) ([]byte, Attributes, error) {
	raw, err := os.ReadFile(s.varPath(guid, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, coreerr.New(coreerr.NotFound, "variable %s-%s not found", name, guid)
		}
		return nil, 0, coreerr.Wrap(coreerr.Internal, err, "read efi variable")
	}
	if len(raw) < 4 {
		return nil, 0, coreerr.New(coreerr.InvalidData, "variable %s-%s payload shorter than attribute header", name, guid)
	}
	attrs := Attributes(binary.LittleEndian.Uint32(raw[:4]))
	data := append([]byte(nil), raw[4:]...)
	return data, attrs, nil
}

func (s *LinuxStore) GetDataBytes(guid uuid.UUID, name string) ([]byte, error) {
	data, _, err := s.GetData(guid, name)
	return data, err
}

// clearImmutable drops FS_IMMUTABLE_FL on f if set, reporting whether it was
// set so the caller can restore it afterward. ENOTTY/ENOSYS (the ioctl not
// implemented on this filesystem, e.g. tmpfs in tests) is treated as "no
// flag existed", per spec.md §4.1.1; any other ioctl error is fatal.
func clearImmutable(f *os.File) (wasSet bool, err error) {
	var flags uint32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fsIOCGetFlags, uintptr(unsafe.Pointer(&flags))); errno != 0 {
		if errno == unix.ENOTTY || errno == unix.ENOSYS {
			return false, nil
		}
		return false, coreerr.New(coreerr.PermissionDenied, "FS_IOC_GETFLAGS: %v", errno)
	}
	if flags&fsImmutableFl == 0 {
		return false, nil
	}
	flags &^= fsImmutableFl
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fsIOCSetFlags, uintptr(unsafe.Pointer(&flags))); errno != 0 {
		return false, coreerr.New(coreerr.PermissionDenied, "clear immutable flag: %v", errno)
	}
	return true, nil
}

// restoreImmutable re-sets FS_IMMUTABLE_FL on f.
func restoreImmutable(f *os.File) error {
	var flags uint32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fsIOCGetFlags, uintptr(unsafe.Pointer(&flags))); errno != 0 {
		return nil
	}
	flags |= fsImmutableFl
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fsIOCSetFlags, uintptr(unsafe.Pointer(&flags))); errno != 0 {
		return coreerr.New(coreerr.PermissionDenied, "restore immutable flag: %v", errno)
	}
	return nil
}

func (s *LinuxStore) SetData(guid uuid.UUID, name string, data []byte, attrs Attributes) error {
	path := s.varPath(guid, name)

	var wasImmutable bool
	if f, err := os.OpenFile(path, os.O_RDWR, 0); err == nil {
		wasImmutable, err = clearImmutable(f)
		f.Close()
		if err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return coreerr.Wrap(coreerr.Internal, err, "open existing efi variable for immutable clear")
	}

	payload := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(payload[:4], uint32(attrs))
	copy(payload[4:], data)

	if err := os.WriteFile(path, payload, 0644); err != nil {
		return coreerr.Wrap(coreerr.Write, err, "write efi variable")
	}

	if wasImmutable {
		if f, err := os.OpenFile(path, os.O_RDWR, 0); err == nil {
			ierr := restoreImmutable(f)
			f.Close()
			if ierr != nil {
				return ierr
			}
		}
	}
	return nil
}

func (s *LinuxStore) Delete(guid uuid.UUID, name string) error {
	path := s.varPath(guid, name)
	if f, err := os.OpenFile(path, os.O_RDWR, 0); err == nil {
		_, ierr := clearImmutable(f)
		f.Close()
		if ierr != nil {
			return ierr
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return coreerr.Wrap(coreerr.Write, err, "delete efi variable")
	}
	return nil
}

func (s *LinuxStore) DeleteWithGlob(guid uuid.UUID, nameGlob string) error {
	names, err := s.GetNames(guid)
	if err != nil {
		return err
	}
	for _, n := range names {
		ok, err := filepath.Match(nameGlob, n)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, err, "invalid glob")
		}
		if ok {
			if err := s.Delete(guid, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *LinuxStore) GetNames(guid uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(s.basePath())
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotSupported, err, "read efivarfs directory")
	}
	suffix := "-" + guid.String()
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, strings.TrimSuffix(e.Name(), suffix))
		}
	}
	return names, nil
}

func (s *LinuxStore) GetBootOrder() ([]uint16, error) {
	data, err := s.GetDataBytes(GlobalGUID, "BootOrder")
	if err != nil {
		return nil, err
	}
	return unmarshalBootOrder(data)
}

func (s *LinuxStore) SetBootOrder(order []uint16) error {
	return s.SetData(GlobalGUID, "BootOrder", marshalBootOrder(order), StandardAttrs)
}

func (s *LinuxStore) GetBootNext() (uint16, error) {
	data, err := s.GetDataBytes(GlobalGUID, "BootNext")
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, coreerr.New(coreerr.InvalidData, "BootNext payload has length %d, want 2", len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (s *LinuxStore) SetBootNext(slot uint16) error {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, slot)
	return s.SetData(GlobalGUID, "BootNext", data, StandardAttrs)
}

func (s *LinuxStore) GetBootEntry(slot uint16) (*LoadOption, error) {
	data, err := s.GetDataBytes(GlobalGUID, BootVarName(slot))
	if err != nil {
		return nil, err
	}
	return ParseLoadOption(data)
}

func (s *LinuxStore) SetBootData(slot uint16, data []byte) error {
	return s.SetData(GlobalGUID, BootVarName(slot), data, StandardAttrs)
}

func (s *LinuxStore) GetSecureBoot() (bool, error) {
	data, err := s.GetDataBytes(GlobalGUID, "SecureBoot")
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

// SetVerbose toggles fwupdate's own verbose-logging variable, supplementing
// spec.md's §6.1 variable table.
func (s *LinuxStore) SetVerbose(enabled bool) error {
	v := byte(0)
	if enabled {
		v = 1
	}
	return s.SetData(FwupdGUID, "FWUPDATE_VERBOSE", []byte{v}, StandardAttrs)
}

// ReadDebugLog decodes fwupdate's UCS-2 debug log variable, if present.
func (s *LinuxStore) ReadDebugLog() (string, error) {
	data, err := s.GetDataBytes(FwupdGUID, "FWUPDATE_DEBUG_LOG")
	if err != nil {
		return "", err
	}
	decoded, _, err := transform.Bytes(efiEncoding.NewDecoder(), data)
	if err != nil {
		return "", coreerr.Wrap(coreerr.InvalidData, err, "decode debug log")
	}
	return strings.TrimRight(string(decoded), "\x00"), nil
}

// ClearDebugLog removes fwupdate's debug log variable.
func (s *LinuxStore) ClearDebugLog() error {
	return s.Delete(FwupdGUID, "FWUPDATE_DEBUG_LOG")
}
