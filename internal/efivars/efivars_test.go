package efivars

import (
	"testing"

	"github.com/google/uuid"
)

func TestLoadOptionRoundTrip(t *testing.T) {
	lo := &LoadOption{
		Attributes:   1,
		Description:  "Linux Firmware Updater",
		DevicePath:   []byte{0x04, 0x01, 0x2a, 0x00, 0xde, 0xad, 0xbe, 0xef},
		OptionalData: []byte("hello"),
	}
	data, err := lo.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := ParseLoadOption(data)
	if err != nil {
		t.Fatalf("ParseLoadOption: %v", err)
	}
	if got.Description != lo.Description {
		t.Errorf("description = %q, want %q", got.Description, lo.Description)
	}
	if string(got.DevicePath) != string(lo.DevicePath) {
		t.Errorf("device path = %x, want %x", got.DevicePath, lo.DevicePath)
	}
	if string(got.OptionalData) != string(lo.OptionalData) {
		t.Errorf("optional data = %q, want %q", got.OptionalData, lo.OptionalData)
	}
}

func TestParseLoadOptionTooShort(t *testing.T) {
	if _, err := ParseLoadOption([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short payload")
	}
}

func TestBootOrderRoundTrip(t *testing.T) {
	order := []uint16{0x0003, 0x0001, 0x0002}
	data := marshalBootOrder(order)
	got, err := unmarshalBootOrder(data)
	if err != nil {
		t.Fatalf("unmarshalBootOrder: %v", err)
	}
	if len(got) != len(order) {
		t.Fatalf("len = %d, want %d", len(got), len(order))
	}
	for i := range order {
		if got[i] != order[i] {
			t.Errorf("order[%d] = %04x, want %04x", i, got[i], order[i])
		}
	}
}

func TestMemStoreGetSetDelete(t *testing.T) {
	s := NewMemStore()
	if !s.Supported() {
		t.Fatal("expected fresh MemStore to report Supported")
	}
	guid := uuid.New()
	if _, _, err := s.GetData(guid, "Foo"); err == nil {
		t.Fatal("expected NotFound before SetData")
	}
	if err := s.SetData(guid, "Foo", []byte("bar"), StandardAttrs); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	data, attrs, err := s.GetData(guid, "Foo")
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(data) != "bar" {
		t.Errorf("data = %q, want %q", data, "bar")
	}
	if attrs != StandardAttrs {
		t.Errorf("attrs = %v, want %v", attrs, StandardAttrs)
	}
	if err := s.Delete(guid, "Foo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.GetData(guid, "Foo"); err == nil {
		t.Fatal("expected NotFound after Delete")
	}
}

func TestMemStoreDeleteWithGlob(t *testing.T) {
	s := NewMemStore()
	guid := uuid.New()
	for _, n := range []string{"dbx-1", "dbx-2", "other"} {
		if err := s.SetData(guid, n, []byte("x"), StandardAttrs); err != nil {
			t.Fatalf("SetData(%s): %v", n, err)
		}
	}
	if err := s.DeleteWithGlob(guid, "dbx-*"); err != nil {
		t.Fatalf("DeleteWithGlob: %v", err)
	}
	names, err := s.GetNames(guid)
	if err != nil {
		t.Fatalf("GetNames: %v", err)
	}
	if len(names) != 1 || names[0] != "other" {
		t.Errorf("names = %v, want [other]", names)
	}
}

func TestBootOrderIdempotence(t *testing.T) {
	s := NewMemStore()
	if err := s.SetBootOrder([]uint16{1, 2}); err != nil {
		t.Fatalf("SetBootOrder: %v", err)
	}
	if err := AddToBootOrder(s, 2); err != nil {
		t.Fatalf("AddToBootOrder: %v", err)
	}
	order, err := s.GetBootOrder()
	if err != nil {
		t.Fatalf("GetBootOrder: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("order = %v, want len 2 (AddToBootOrder must be a no-op for an already-present slot)", order)
	}
	if err := AddToBootOrder(s, 3); err != nil {
		t.Fatalf("AddToBootOrder: %v", err)
	}
	order, err = s.GetBootOrder()
	if err != nil {
		t.Fatalf("GetBootOrder: %v", err)
	}
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestRemoveFromBootOrder(t *testing.T) {
	s := NewMemStore()
	if err := s.SetBootOrder([]uint16{1, 2, 3}); err != nil {
		t.Fatalf("SetBootOrder: %v", err)
	}
	if err := RemoveFromBootOrder(s, 2); err != nil {
		t.Fatalf("RemoveFromBootOrder: %v", err)
	}
	order, err := s.GetBootOrder()
	if err != nil {
		t.Fatalf("GetBootOrder: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("order = %v, want [1 3]", order)
	}
}

func TestBootEntryRoundTripViaStore(t *testing.T) {
	s := NewMemStore()
	lo := &LoadOption{
		Attributes:  1,
		Description: "fwupd",
		DevicePath:  []byte{0x7f, 0xff, 0x04, 0x00},
	}
	data, err := lo.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := s.SetBootData(0x0042, data); err != nil {
		t.Fatalf("SetBootData: %v", err)
	}
	got, err := s.GetBootEntry(0x0042)
	if err != nil {
		t.Fatalf("GetBootEntry: %v", err)
	}
	if got.Description != "fwupd" {
		t.Errorf("description = %q, want fwupd", got.Description)
	}
}

func TestSecureBootDefaultsFalse(t *testing.T) {
	s := NewMemStore()
	on, err := s.GetSecureBoot()
	if err != nil {
		t.Fatalf("GetSecureBoot: %v", err)
	}
	if on {
		t.Error("expected SecureBoot to default to false when the variable is absent")
	}
	if err := s.SetData(GlobalGUID, "SecureBoot", []byte{1}, StandardAttrs); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	on, err = s.GetSecureBoot()
	if err != nil {
		t.Fatalf("GetSecureBoot: %v", err)
	}
	if !on {
		t.Error("expected SecureBoot to read back true")
	}
}
