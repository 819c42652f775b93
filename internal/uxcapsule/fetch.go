package uxcapsule

import (
	"archive/tar"
	"bytes"
	"io"
	"strconv"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// FetchFromArchive reads a tar archive of pre-rendered splash bitmaps (the
// vendor collaborator referenced in spec.md §4.6) and returns the bytes of
// the entry matching "<width>x<height>.bmp".
func FetchFromArchive(archive []byte, width, height uint32) ([]byte, error) {
	name := formatBMPName(width, height)
	tr := tar.NewReader(bytes.NewReader(archive))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, coreerr.Wrap(coreerr.InvalidFile, err, "read splash archive")
		}
		if hdr.Name != name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, coreerr.Wrapf(coreerr.InvalidFile, err, "read splash bitmap %s", name)
		}
		return data, nil
	}
	return nil, coreerr.New(coreerr.NotFound, "splash archive does not contain %s", name)
}

func formatBMPName(width, height uint32) string {
	return strconv.FormatUint(uint64(width), 10) + "x" + strconv.FormatUint(uint64(height), 10) + ".bmp"
}
