//go:build freebsd

package efivars

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

const efiDevicePath = "/dev/efi"

// efiVarIOC mirrors struct efi_var_ioc from <sys/efiio.h>: a fixed name
// buffer, a vendor GUID, attributes, a data pointer/length pair, and a
// status word the kernel fills in.
type efiVarIOC struct {
	Name      [512]uint16
	NameSize  uint64
	VendorGUID [16]byte
	Attrib    uint32
	DataSize  uint64
	Data      uintptr
	Status    uint32
	_         [4]byte
}

// Hardcoded ioctl numbers for the efi(4) variable service, matching
// <sys/efiio.h>'s EFIIOC_VAR_GET / EFIIOC_VAR_SET / EFIIOC_VAR_NEXT.
const (
	efiiocVarGet  = 0xc0685005
	efiiocVarSet  = 0xc0685006
	efiiocVarNext = 0xc0685007
)

// FreeBSDStore implements Store over /dev/efi, the efi(4) character device.
type FreeBSDStore struct {
	DevicePath string
}

// NewFreeBSDStore returns a Store backed by the real efi(4) device.
func NewFreeBSDStore() *FreeBSDStore {
	return &FreeBSDStore{DevicePath: efiDevicePath}
}

func (s *FreeBSDStore) devicePath() string {
	if s.DevicePath != "" {
		return s.DevicePath
	}
	return efiDevicePath
}

func (s *FreeBSDStore) Supported() bool {
	_, err := os.Stat(s.devicePath())
	return err == nil
}

func (s *FreeBSDStore) open() (*os.File, error) {
	f, err := os.OpenFile(s.devicePath(), os.O_RDWR, 0)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotSupported, err, "open efi(4) device")
	}
	return f, nil
}

func nameToUTF16(name string) [512]uint16 {
	var out [512]uint16
	runes := []rune(name)
	for i, r := range runes {
		if i >= len(out)-1 {
			break
		}
		out[i] = uint16(r)
	}
	return out
}

func (s *FreeBSDStore) GetData(guid uuid.UUID, name string) ([]byte, Attributes, error) {
	f, err := s.open()
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	buf := make([]byte, 65536)
	req := efiVarIOC{
		Name:       nameToUTF16(name),
		NameSize:   uint64((len(name) + 1) * 2),
		VendorGUID: guid,
		DataSize:   uint64(len(buf)),
		Data:       uintptr(unsafe.Pointer(&buf[0])),
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), efiiocVarGet, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return nil, 0, coreerr.New(coreerr.NotFound, "EFIIOC_VAR_GET %s: %v", name, errno)
	}
	data := append([]byte(nil), buf[:req.DataSize]...)
	return data, Attributes(req.Attrib), nil
}

func (s *FreeBSDStore) GetDataBytes(guid uuid.UUID, name string) ([]byte, error) {
	data, _, err := s.GetData(guid, name)
	return data, err
}

func (s *FreeBSDStore) SetData(guid uuid.UUID, name string, data []byte, attrs Attributes) error {
	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	var dataPtr uintptr
	if len(data) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&data[0]))
	}
	req := efiVarIOC{
		Name:       nameToUTF16(name),
		NameSize:   uint64((len(name) + 1) * 2),
		VendorGUID: guid,
		Attrib:     uint32(attrs),
		DataSize:   uint64(len(data)),
		Data:       dataPtr,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), efiiocVarSet, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return coreerr.New(coreerr.Write, "EFIIOC_VAR_SET %s: %v", name, errno)
	}
	return nil
}

func (s *FreeBSDStore) Delete(guid uuid.UUID, name string) error {
	return s.SetData(guid, name, nil, 0)
}

func (s *FreeBSDStore) DeleteWithGlob(guid uuid.UUID, nameGlob string) error {
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

// GetNames walks the variable namespace with EFIIOC_VAR_NEXT, which the
// kernel defines to iterate every variable regardless of vendor GUID; we
// filter client-side to the requested GUID.
func (s *FreeBSDStore) GetNames(guid uuid.UUID) ([]string, error) {
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	req := efiVarIOC{}
	for {
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), efiiocVarNext, uintptr(unsafe.Pointer(&req))); errno != 0 {
			break
		}
		if req.VendorGUID == guid {
			var runes []rune
			for _, u := range req.Name {
				if u == 0 {
					break
				}
				runes = append(runes, rune(u))
			}
			names = append(names, string(runes))
		}
	}
	return names, nil
}

func (s *FreeBSDStore) SpaceUsed() (uint64, error) {
	return 0, coreerr.New(coreerr.NotSupported, "space accounting is not exposed by efi(4)")
}

func (s *FreeBSDStore) GetBootOrder() ([]uint16, error) {
	data, err := s.GetDataBytes(GlobalGUID, "BootOrder")
	if err != nil {
		return nil, err
	}
	return unmarshalBootOrder(data)
}

func (s *FreeBSDStore) SetBootOrder(order []uint16) error {
	return s.SetData(GlobalGUID, "BootOrder", marshalBootOrder(order), StandardAttrs)
}

func (s *FreeBSDStore) GetBootNext() (uint16, error) {
	data, err := s.GetDataBytes(GlobalGUID, "BootNext")
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, coreerr.New(coreerr.InvalidData, "BootNext payload has length %d, want 2", len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (s *FreeBSDStore) SetBootNext(slot uint16) error {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, slot)
	return s.SetData(GlobalGUID, "BootNext", data, StandardAttrs)
}

func (s *FreeBSDStore) GetBootEntry(slot uint16) (*LoadOption, error) {
	data, err := s.GetDataBytes(GlobalGUID, BootVarName(slot))
	if err != nil {
		return nil, err
	}
	return ParseLoadOption(data)
}

func (s *FreeBSDStore) SetBootData(slot uint16, data []byte) error {
	return s.SetData(GlobalGUID, BootVarName(slot), data, StandardAttrs)
}

func (s *FreeBSDStore) GetSecureBoot() (bool, error) {
	data, err := s.GetDataBytes(GlobalGUID, "SecureBoot")
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}
