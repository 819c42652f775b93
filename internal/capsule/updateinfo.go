package capsule

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efiguid"
)

// Status is the UPDATE_INFO lifecycle state (spec.md §3.1 UpdateInfo).
type Status uint32

const (
	StatusUnknown Status = iota
	StatusAttemptUpdate
	StatusAttempted
)

func (s Status) String() string {
	switch s {
	case StatusAttemptUpdate:
		return "attempt-update"
	case StatusAttempted:
		return "attempted"
	default:
		return "unknown"
	}
}

// UpdateInfoVersion is the only layout version this core writes or
// understands (spec.md §4.3.4).
const UpdateInfoVersion = 0x7

// UpdateInfo is the binding structure persisted under the fwupd GUID that
// tells the pre-boot updater where the capsule file lives.
type UpdateInfo struct {
	GUID          uuid.UUID
	CapsuleFlags  uint32
	HwInst        uint64
	TimeAttempted [16]byte
	Status        Status
	DevicePath    []byte
}

// Marshal serializes u into the wire layout spec.md §4.3.4 defines.
func (u UpdateInfo) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(UpdateInfoVersion)); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write update_info version")
	}
	guidMixed := efiguid.MixedEndianBytes(u.GUID)
	buf.Write(guidMixed[:])
	if err := binary.Write(&buf, binary.LittleEndian, u.CapsuleFlags); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write update_info capsule_flags")
	}
	if err := binary.Write(&buf, binary.LittleEndian, u.HwInst); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write update_info hw_inst")
	}
	buf.Write(u.TimeAttempted[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(u.Status)); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "write update_info status")
	}
	buf.Write(u.DevicePath)
	return buf.Bytes(), nil
}

// ParseUpdateInfo decodes the UPDATE_INFO payload, rejecting any version
// other than UpdateInfoVersion.
func ParseUpdateInfo(data []byte) (UpdateInfo, error) {
	if len(data) < 52 {
		return UpdateInfo{}, coreerr.New(coreerr.InvalidData, "update_info payload too short: %d bytes", len(data))
	}
	version := binary.LittleEndian.Uint32(data[0:4])
	if version != UpdateInfoVersion {
		return UpdateInfo{}, coreerr.New(coreerr.InvalidData, "update_info version %#x, want %#x", version, UpdateInfoVersion)
	}
	guid, err := efiguid.ParseMixedEndian(data[4:20])
	if err != nil {
		return UpdateInfo{}, err
	}
	capsuleFlags := binary.LittleEndian.Uint32(data[20:24])
	hwInst := binary.LittleEndian.Uint64(data[24:32])
	var timeAttempted [16]byte
	copy(timeAttempted[:], data[32:48])
	status := Status(binary.LittleEndian.Uint32(data[48:52]))

	return UpdateInfo{
		GUID:          guid,
		CapsuleFlags:  capsuleFlags,
		HwInst:        hwInst,
		TimeAttempted: timeAttempted,
		Status:        status,
		DevicePath:    append([]byte(nil), data[52:]...),
	}, nil
}
