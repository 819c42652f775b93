package dbx

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/testutil"
)

func buildSHA256List(owner uuid.UUID, hashes ...[32]byte) SignatureList {
	var entries []Entry
	for _, h := range hashes {
		entries = append(entries, Entry{Owner: owner, Data: append([]byte(nil), h[:]...)})
	}
	return SignatureList{SignatureType: SHA256SignatureType, SignatureSize: 48, Entries: entries}
}

func TestSignatureListRoundTrip(t *testing.T) {
	owner := uuid.New()
	var h1, h2 [32]byte
	h1[0] = 0xAA
	h2[0] = 0xBB
	list := buildSHA256List(owner, h1, h2)

	data, err := list.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := ParseSignatureLists(data)
	if err != nil {
		t.Fatalf("ParseSignatureLists: %v", err)
	}
	if len(parsed) != 1 || len(parsed[0].Entries) != 2 {
		t.Fatalf("parsed = %+v", parsed)
	}
	if parsed[0].Entries[0].Owner != owner {
		t.Errorf("owner mismatch")
	}
	if !ContainsSHA256(parsed, h1) || !ContainsSHA256(parsed, h2) {
		t.Error("expected both hashes present")
	}
	last, found := LastEntrySHA256(parsed)
	if !found || last != h2 {
		t.Errorf("LastEntrySHA256 = %x, found=%v, want %x", last, found, h2)
	}
}

func TestParseSignatureListsRejectsTrailingGarbage(t *testing.T) {
	owner := uuid.New()
	var h [32]byte
	list := buildSHA256List(owner, h)
	data, _ := list.Marshal()
	data = append(data, 0x01, 0x02, 0x03)
	if _, err := ParseSignatureLists(data); err == nil {
		t.Fatal("expected error for truncated trailing list")
	}
}

func TestParseSignatureListsRejectsEmptyPayload(t *testing.T) {
	if _, err := ParseSignatureLists(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestMarshalAll(t *testing.T) {
	owner := uuid.New()
	var h1, h2 [32]byte
	h1[0], h2[0] = 1, 2
	lists := []SignatureList{buildSHA256List(owner, h1), buildSHA256List(owner, h2)}
	data, err := MarshalAll(lists)
	if err != nil {
		t.Fatalf("MarshalAll: %v", err)
	}
	parsed, err := ParseSignatureLists(data)
	if err != nil {
		t.Fatalf("ParseSignatureLists: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("got %d lists, want 2", len(parsed))
	}
}

func TestCheckNoRevocationFailsWhenBinaryHashPresent(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "shimx64.efi")
	writeMinimalPE(t, binPath)

	hash, err := AuthenticodeHash(binPath)
	if err != nil {
		t.Fatalf("AuthenticodeHash: %v", err)
	}
	list := buildSHA256List(uuid.New(), hash)

	if err := CheckNoRevocation([]SignatureList{list}, []string{binPath}); err == nil {
		t.Fatal("expected NeedsUserAction when dbx would revoke an installed binary")
	}
}

func TestCheckNoRevocationPassesWhenHashAbsent(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "shimx64.efi")
	writeMinimalPE(t, binPath)

	var unrelated [32]byte
	unrelated[0] = 0xFF
	list := buildSHA256List(uuid.New(), unrelated)

	if err := CheckNoRevocation([]SignatureList{list}, []string{binPath}); err != nil {
		t.Fatalf("CheckNoRevocation: %v", err)
	}
}

func TestScanESPBinaries(t *testing.T) {
	dir := t.TempDir()
	osDir := filepath.Join(dir, "EFI", "fedora")
	os.MkdirAll(osDir, 0755)
	os.WriteFile(filepath.Join(osDir, "shimx64.efi"), []byte("x"), 0644)

	found, err := ScanESPBinaries(dir, "fedora")
	if err != nil {
		t.Fatalf("ScanESPBinaries: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found = %v, want 1 entry", found)
	}
}

func TestApplyWritesAndReportsChecksum(t *testing.T) {
	store := efivars.NewMemStore()
	dir := t.TempDir()

	var h [32]byte
	h[0] = 0x42
	list := buildSHA256List(uuid.New(), h)
	payload, err := list.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	report, err := Apply(context.Background(), store, payload, dir, "fedora", ApplyOptions{SkipAuthHeader: true})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.LastChecksum != h {
		t.Errorf("LastChecksum = %x, want %x", report.LastChecksum, h)
	}

	stored, err := store.GetDataBytes(efivars.DbxGUID, VarName)
	if err != nil {
		t.Fatalf("GetDataBytes: %v", err)
	}
	if len(stored) != len(payload) {
		t.Errorf("stored len = %d, want %d", len(stored), len(payload))
	}
}

func TestApplyAppendsOnSecondWrite(t *testing.T) {
	store := efivars.NewMemStore()
	dir := t.TempDir()

	var h1, h2 [32]byte
	h1[0], h2[0] = 1, 2
	payload1, _ := buildSHA256List(uuid.New(), h1).Marshal()
	payload2, _ := buildSHA256List(uuid.New(), h2).Marshal()

	if _, err := Apply(context.Background(), store, payload1, dir, "fedora", ApplyOptions{SkipAuthHeader: true}); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	report, err := Apply(context.Background(), store, payload2, dir, "fedora", ApplyOptions{SkipAuthHeader: true, Verbose: true})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if report.ListCount != 2 {
		t.Errorf("ListCount = %d, want 2 (append, not replace)", report.ListCount)
	}
	if !ContainsSHA256(report.Lists, h1) && report.Lists != nil {
		t.Error("expected earlier hash still present after append")
	}
}

func TestApplyRejectsRevocationOfInstalledBinary(t *testing.T) {
	store := efivars.NewMemStore()
	dir := t.TempDir()
	osDir := filepath.Join(dir, "EFI", "fedora")
	os.MkdirAll(osDir, 0755)
	binPath := filepath.Join(osDir, "shimx64.efi")
	writeMinimalPE(t, binPath)

	hash, err := AuthenticodeHash(binPath)
	if err != nil {
		t.Fatalf("AuthenticodeHash: %v", err)
	}
	payload, _ := buildSHA256List(uuid.New(), hash).Marshal()

	if _, err := Apply(context.Background(), store, payload, dir, "fedora", ApplyOptions{SkipAuthHeader: true}); err == nil {
		t.Fatal("expected NeedsUserAction")
	}
}

func TestSnapdNotifier404MeansNotSupported(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	// httptest doesn't expose a unix socket directly; exercise post()'s
	// status-code handling through Prepare with a client whose dialer
	// reaches the TCP test server instead of a real snapd socket.
	n := &SnapdNotifier{client: &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", ts.Listener.Addr().String())
		},
	}}}
	err := n.Prepare(context.Background(), []byte("payload"))
	if !coreerr.Is(err, coreerr.NotSupported) {
		t.Fatalf("Prepare on 404 = %v, want NotSupported", err)
	}
}

// writeMinimalPE writes a signed test PE binary with a certificate table,
// so AuthenticodeHash has a checksum field and signature region to exclude.
func writeMinimalPE(t *testing.T, path string) {
	t.Helper()
	sections := map[string][]byte{".text": []byte("code bytes")}
	certData := []byte("fake-authenticode-signature")
	if err := testutil.CreateSignedPEFile(path, sections, certData); err != nil {
		t.Fatalf("CreateSignedPEFile: %v", err)
	}
}
