package efivars

import (
	"encoding/binary"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

type memVar struct {
	data  []byte
	attrs Attributes
}

// MemStore is an in-memory Store for tests, mirroring the shape of the
// MockEFIVariables maps used elsewhere in the retrieved pack's boot-manager
// code, but satisfying this module's own Store contract.
type MemStore struct {
	mu        sync.Mutex
	vars      map[Descriptor]memVar
	supported bool
}

// NewMemStore returns a MemStore that reports itself as Supported.
func NewMemStore() *MemStore {
	return &MemStore{vars: make(map[Descriptor]memVar), supported: true}
}

// SetSupported overrides the Supported() result, for exercising
// NotSupported code paths.
func (m *MemStore) SetSupported(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supported = v
}

func (m *MemStore) Supported() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supported
}

func (m *MemStore) SpaceUsed() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, v := range m.vars {
		total += uint64(len(v.data))
	}
	return total, nil
}

func (m *MemStore) GetData(guid uuid.UUID, name string) ([]byte, Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[Descriptor{guid, name}]
	if !ok {
		return nil, 0, coreerr.New(coreerr.NotFound, "variable %s-%s not found", name, guid)
	}
	return append([]byte(nil), v.data...), v.attrs, nil
}

func (m *MemStore) GetDataBytes(guid uuid.UUID, name string) ([]byte, error) {
	data, _, err := m.GetData(guid, name)
	return data, err
}

// SetData mimics firmware SetVariable() semantics: a write carrying the
// AppendWrite attribute is concatenated onto any existing value rather
// than replacing it, matching the real EFI_VARIABLE_APPEND_WRITE contract
// (efivarfs itself never truncates on the OS side; firmware does the
// appending for an already-present variable).
func (m *MemStore) SetData(guid uuid.UUID, name string, data []byte, attrs Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc := Descriptor{guid, name}
	newData := append([]byte(nil), data...)
	if attrs&AppendWrite != 0 {
		if existing, ok := m.vars[desc]; ok {
			newData = append(append([]byte(nil), existing.data...), data...)
		}
	}
	m.vars[desc] = memVar{data: newData, attrs: attrs}
	return nil
}

func (m *MemStore) Delete(guid uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vars, Descriptor{guid, name})
	return nil
}

func (m *MemStore) DeleteWithGlob(guid uuid.UUID, nameGlob string) error {
	names, err := m.GetNames(guid)
	if err != nil {
		return err
	}
	for _, n := range names {
		ok, err := filepath.Match(nameGlob, n)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, err, "invalid glob")
		}
		if ok {
			if err := m.Delete(guid, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MemStore) GetNames(guid uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for d := range m.vars {
		if d.GUID == guid {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) GetBootOrder() ([]uint16, error) {
	data, err := m.GetDataBytes(GlobalGUID, "BootOrder")
	if err != nil {
		return nil, err
	}
	return unmarshalBootOrder(data)
}

func (m *MemStore) SetBootOrder(order []uint16) error {
	return m.SetData(GlobalGUID, "BootOrder", marshalBootOrder(order), StandardAttrs)
}

func (m *MemStore) GetBootNext() (uint16, error) {
	data, err := m.GetDataBytes(GlobalGUID, "BootNext")
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, coreerr.New(coreerr.InvalidData, "BootNext payload has length %d, want 2", len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (m *MemStore) SetBootNext(slot uint16) error {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, slot)
	return m.SetData(GlobalGUID, "BootNext", data, StandardAttrs)
}

func (m *MemStore) GetBootEntry(slot uint16) (*LoadOption, error) {
	data, err := m.GetDataBytes(GlobalGUID, BootVarName(slot))
	if err != nil {
		return nil, err
	}
	return ParseLoadOption(data)
}

func (m *MemStore) SetBootData(slot uint16, data []byte) error {
	return m.SetData(GlobalGUID, BootVarName(slot), data, StandardAttrs)
}

func (m *MemStore) GetSecureBoot() (bool, error) {
	data, err := m.GetDataBytes(GlobalGUID, "SecureBoot")
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}
