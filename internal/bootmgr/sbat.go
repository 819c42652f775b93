package bootmgr

import (
	"bufio"
	"bytes"
	"debug/pe"
	"encoding/binary"
	"io"
	"strconv"
	"strings"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// sbatSectionName is the PE section shim and grub embed their SBAT
// component-generation CSV in.
const sbatSectionName = ".sbatlevel"

// ExtractSbatLevelSection reads the .sbatlevel PE section from an EFI
// binary, the same section-lookup approach used elsewhere in this module's
// PE handling. A missing section is reported distinctly from a read
// failure so callers can tell "nothing to check" from "this isn't a valid
// PE file".
func ExtractSbatLevelSection(path string) (data []byte, present bool, err error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, false, coreerr.Wrap(coreerr.InvalidFile, err, "open PE file")
	}
	defer f.Close()

	for _, sec := range f.Sections {
		if sec.Name != sbatSectionName {
			continue
		}
		r := io.NewSectionReader(sec, 0, int64(sec.Size))
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, true, coreerr.Wrap(coreerr.InvalidFile, err, "read .sbatlevel section")
		}
		return raw, true, nil
	}
	return nil, false, nil
}

// sbatLevelHeaderLen is the fixed 8-byte header prefixing a shim's raw
// .sbatlevel section: two little-endian uint32 byte offsets (from the start
// of the section) locating the "previous" and "latest" generation sub-images,
// each a NUL-terminated CSV blob. This mirrors the nested structure
// fu_firmware_get_image_by_id(sbatlevel_section, "previous", ...) navigates
// in the original implementation rather than treating the section as one
// flat CSV.
const sbatLevelHeaderLen = 8

// extractSbatSubImage locates the named ("previous" or "latest") CSV
// sub-image inside a raw .sbatlevel section.
func extractSbatSubImage(section []byte, which string) ([]byte, error) {
	if len(section) < sbatLevelHeaderLen {
		return nil, coreerr.New(coreerr.InvalidFile, "truncated .sbatlevel section header: %d bytes", len(section))
	}
	var offset uint32
	switch which {
	case "previous":
		offset = binary.LittleEndian.Uint32(section[0:4])
	case "latest":
		offset = binary.LittleEndian.Uint32(section[4:8])
	default:
		return nil, coreerr.New(coreerr.Internal, "unknown .sbatlevel sub-image %q", which)
	}
	if int(offset) > len(section) {
		return nil, coreerr.New(coreerr.InvalidFile, ".sbatlevel %s offset %d exceeds section length %d", which, offset, len(section))
	}
	rest := section[offset:]
	if end := bytes.IndexByte(rest, 0); end >= 0 {
		rest = rest[:end]
	}
	return rest, nil
}

// parseSbatCSV parses a CSV blob of `component,generation` lines, matching
// the format shim embeds in .sbatlevel and in SbatLevelRT. Blank lines and
// lines beginning with '#' are ignored; extra trailing fields are allowed
// and ignored, since real sbatlevel data sometimes carries a vendor/date
// suffix this core does not need.
func parseSbatCSV(data []byte) (map[string]int, error) {
	out := make(map[string]int)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return nil, coreerr.New(coreerr.InvalidData, "malformed sbat CSV line: %q", line)
		}
		component := strings.TrimSpace(fields[0])
		gen, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, coreerr.Wrapf(coreerr.InvalidData, err, "parse generation for component %q", component)
		}
		out[component] = gen
	}
	if err := sc.Err(); err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidData, err, "scan sbat CSV")
	}
	return out, nil
}

// CheckSbatSafety implements spec.md §4.4.3: a new shim is safe to install
// only if every component generation declared in its .sbatlevel "previous"
// sub-image (the generation set the shim falls back to, not its own
// "latest" generation) is present in the current SbatLevelRT and no higher
// than the currently-enforced generation. A shim with no .sbatlevel section
// at all skips the check entirely (there is nothing to compare).
func CheckSbatSafety(newSbatSection []byte, sectionPresent bool, currentRT []byte) error {
	if !sectionPresent {
		return nil
	}
	previous, err := extractSbatSubImage(newSbatSection, "previous")
	if err != nil {
		return err
	}
	newLevels, err := parseSbatCSV(previous)
	if err != nil {
		return err
	}
	currentLevels, err := parseSbatCSV(currentRT)
	if err != nil {
		return err
	}
	for component, newGen := range newLevels {
		curGen, ok := currentLevels[component]
		if !ok {
			return coreerr.New(coreerr.InvalidFile, "component %q is not present in SbatLevelRT; installing this shim could be un-bootable", component)
		}
		if newGen > curGen {
			return coreerr.New(coreerr.InvalidFile, "component %q generation %d would revoke the currently trusted generation %d", component, newGen, curGen)
		}
	}
	return nil
}
