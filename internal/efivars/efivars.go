// Package efivars provides typed read/write/delete/enumerate access to the
// platform EFI variable store. Every other package in this module routes its
// variable I/O through the Store interface here, so it can be faked in tests
// with MemStore instead of touching a real efivarfs mount.
package efivars

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// BootVarName formats the BootXXXX variable name for a given boot number.
func BootVarName(slot uint16) string {
	return fmt.Sprintf("Boot%04X", slot)
}

// Attributes is the bitmask UEFI attaches to every variable.
type Attributes uint32

const (
	NonVolatile                       Attributes = 1 << 0
	BootserviceAccess                 Attributes = 1 << 1
	RuntimeAccess                     Attributes = 1 << 2
	HardwareErrorRecord               Attributes = 1 << 3
	AuthenticatedWriteAccess          Attributes = 1 << 4
	TimeBasedAuthenticatedWriteAccess Attributes = 1 << 5
	AppendWrite                       Attributes = 1 << 6
)

// StandardAttrs is the attribute set every variable the core creates uses,
// except dbx appends (see DbxAppendAttrs).
const StandardAttrs = NonVolatile | BootserviceAccess | RuntimeAccess

// DbxAppendAttrs is used when appending new entries to dbx.
const DbxAppendAttrs = TimeBasedAuthenticatedWriteAccess | AppendWrite

// Well-known vendor GUIDs consulted or owned by the core (spec.md §6.1).
var (
	GlobalGUID = uuid.MustParse("8be4df61-93ca-11d2-aa0d-00e098032b8c")
	FwupdGUID  = uuid.MustParse("0abba7dc-e516-4167-bbf5-4d9d1c739416")
	ShimGUID   = uuid.MustParse("605dab50-e046-4300-abb6-3dd810dd8b23")
	DbxGUID    = uuid.MustParse("d719b2cb-3d3a-4596-a3bc-dad00e67656f")
)

// Descriptor names a variable within its vendor namespace.
type Descriptor struct {
	GUID uuid.UUID
	Name string
}

// Store is the full contract spec.md §4.1 requires of the EFI variable
// abstraction; LinuxStore and FreeBSDStore implement it over the real
// platform, MemStore implements it in memory for tests.
type Store interface {
	// Supported reports whether this platform exposes an EFI variable
	// service with a writable backing store.
	Supported() bool

	// SpaceUsed sums the size of every variable visible to this process.
	SpaceUsed() (uint64, error)

	// GetData reads a variable's raw payload and attributes.
	GetData(guid uuid.UUID, name string) ([]byte, Attributes, error)

	// GetDataBytes is GetData without the attributes.
	GetDataBytes(guid uuid.UUID, name string) ([]byte, error)

	// SetData writes a variable, performing the immutable-flag dance on
	// platforms that need it.
	SetData(guid uuid.UUID, name string, data []byte, attrs Attributes) error

	// Delete removes a variable. Deleting an absent variable is not an
	// error.
	Delete(guid uuid.UUID, name string) error

	// DeleteWithGlob deletes every variable under guid whose name matches
	// the shell-style glob.
	DeleteWithGlob(guid uuid.UUID, nameGlob string) error

	// GetNames lists every variable name under guid.
	GetNames(guid uuid.UUID) ([]string, error)

	// GetBootOrder reads BootOrder under GlobalGUID.
	GetBootOrder() ([]uint16, error)
	// SetBootOrder writes BootOrder under GlobalGUID.
	SetBootOrder(order []uint16) error

	// GetBootNext reads BootNext under GlobalGUID.
	GetBootNext() (uint16, error)
	// SetBootNext writes BootNext under GlobalGUID.
	SetBootNext(slot uint16) error

	// GetBootEntry reads and parses Boot%04X under GlobalGUID.
	GetBootEntry(slot uint16) (*LoadOption, error)
	// SetBootData writes the raw payload of Boot%04X under GlobalGUID.
	SetBootData(slot uint16, data []byte) error

	// GetSecureBoot reads the SecureBoot variable; absent means false.
	GetSecureBoot() (bool, error)
}

// AddToBootOrder appends slot to BootOrder if it is not already present,
// leaving the order untouched on a repeat call (BootOrder idempotence,
// spec.md §8.1).
func AddToBootOrder(s Store, slot uint16) error {
	order, err := s.GetBootOrder()
	if err != nil && !coreerr.Is(err, coreerr.NotFound) {
		return err
	}
	for _, v := range order {
		if v == slot {
			return nil
		}
	}
	return s.SetBootOrder(append(order, slot))
}

// RemoveFromBootOrder drops every occurrence of slot from BootOrder.
func RemoveFromBootOrder(s Store, slot uint16) error {
	order, err := s.GetBootOrder()
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return nil
		}
		return err
	}
	out := order[:0]
	for _, v := range order {
		if v != slot {
			out = append(out, v)
		}
	}
	return s.SetBootOrder(out)
}
