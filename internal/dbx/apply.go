package dbx

import (
	"context"
	"os"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
)

// VerboseFromEnv reports whether FWUPD_UEFI_DBX_VERBOSE is set to a
// truthy value, the switch a host daemon uses to ask Apply for the full
// parsed signature-list structure in its Report rather than just the
// checksum.
func VerboseFromEnv() bool {
	v := os.Getenv("FWUPD_UEFI_DBX_VERBOSE")
	return v != "" && v != "0"
}

// VarName is the fixed name of the dbx variable under efivars.DbxGUID.
const VarName = "dbx"

// ApplyOptions configures an Apply call with the environment-driven knobs
// spec.md's supplemented features call for.
type ApplyOptions struct {
	// Notifier, when non-nil, is consulted before and after the write
	// (spec.md §4.7 snapd integration).
	Notifier *SnapdNotifier
	// SkipAuthHeader declares that payload is already a bare
	// EFI_SIGNATURE_LIST stream rather than one wrapped in an
	// EFI_VARIABLE_AUTHENTICATION_2 header; real dbx updates arrive
	// either way depending on the delivery channel.
	SkipAuthHeader bool
	// Verbose mirrors FWUPD_UEFI_DBX_VERBOSE: when true, Apply returns a
	// Report with the full parsed signature-list structure instead of
	// just the resulting checksum.
	Verbose bool
}

// Report is what Apply returns on success.
type Report struct {
	ListCount    int
	LastChecksum [32]byte
	Lists        []SignatureList // populated only when ApplyOptions.Verbose is set
}

// Apply implements spec.md §4.7 end to end: parse, check for revocation of
// the binaries currently on the ESP, optionally coordinate with snapd,
// write the payload to dbx, and report the new last-entry checksum.
func Apply(ctx context.Context, store efivars.Store, payload []byte, espMount, osDir string, opts ApplyOptions) (*Report, error) {
	listPayload := payload
	if !opts.SkipAuthHeader {
		stripped, err := StripAuthHeader(payload)
		if err != nil {
			return nil, err
		}
		listPayload = stripped
	}

	lists, err := ParseSignatureLists(listPayload)
	if err != nil {
		return nil, err
	}

	binaries, err := ScanESPBinaries(espMount, osDir)
	if err != nil {
		return nil, err
	}
	if err := CheckNoRevocation(lists, binaries); err != nil {
		return nil, err
	}

	if opts.Notifier != nil {
		if err := opts.Notifier.Prepare(ctx, payload); err != nil && !coreerr.Is(err, coreerr.NotSupported) {
			return nil, err
		}
	}

	// The variable store abstracts firmware's own SetVariable() behavior,
	// which validates and strips any authentication wrapper before
	// persisting the variable; only the bare signature-list stream is
	// ever the variable's resting content.
	if err := store.SetData(efivars.DbxGUID, VarName, listPayload, efivars.DbxAppendAttrs); err != nil {
		return nil, coreerr.Wrap(coreerr.Write, err, "append dbx payload")
	}

	if opts.Notifier != nil {
		if err := opts.Notifier.Cleanup(ctx); err != nil && !coreerr.Is(err, coreerr.NotSupported) {
			return nil, err
		}
	}

	current, err := store.GetDataBytes(efivars.DbxGUID, VarName)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "re-read dbx after write")
	}
	currentLists, err := ParseSignatureLists(current)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "parse dbx after write")
	}
	checksum, found := LastEntrySHA256(currentLists)
	if !found {
		return nil, coreerr.New(coreerr.Internal, "dbx contains no SHA-256 entries after write")
	}

	report := &Report{ListCount: len(currentLists), LastChecksum: checksum}
	if opts.Verbose {
		report.Lists = currentLists
	}
	return report, nil
}
