//go:build linux

package esrt

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEntry(t *testing.T, base, name string, attrs map[string]string) {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for k, v := range attrs {
		if err := os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0644); err != nil {
			t.Fatalf("WriteFile %s: %v", k, err)
		}
	}
}

func TestEnumerateLinux(t *testing.T) {
	base := t.TempDir()
	writeEntry(t, base, "entry0", map[string]string{
		"fw_class":                    "12345678-1234-1234-1234-1234567890ab",
		"fw_type":                     "0x2",
		"fw_version":                  "0x5",
		"lowest_supported_fw_version": "0x1",
		"capsule_flags":               "0x0",
		"last_attempt_status":         "0x0",
		"last_attempt_version":        "0x5",
	})

	e := &Enumerator{BasePath: base}
	targets, err := e.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(targets))
	}
	target := targets[0]
	if target.Kind != DeviceFirmware {
		t.Errorf("kind = %v, want DeviceFirmware", target.Kind)
	}
	if target.FwVersion != 5 {
		t.Errorf("fw_version = %d, want 5", target.FwVersion)
	}
	if target.LastAttemptStatus != Success {
		t.Errorf("last_attempt_status = %v, want Success", target.LastAttemptStatus)
	}
}

func TestEnumerateRejectsBadGUID(t *testing.T) {
	base := t.TempDir()
	writeEntry(t, base, "entry0", map[string]string{
		"fw_class":                    "not-a-guid",
		"fw_type":                     "0x2",
		"fw_version":                  "0x5",
		"lowest_supported_fw_version": "0x1",
		"capsule_flags":               "0x0",
		"last_attempt_status":         "0x0",
		"last_attempt_version":        "0x5",
	})

	e := &Enumerator{BasePath: base}
	if _, err := e.Enumerate(); err == nil {
		t.Fatal("expected NotSupported error for malformed fw_class")
	}
}
