// Package devpath builds and parses the EFI device path node sequences the
// capsule core writes into BootXXXX load options: a hard-drive (HD) node
// locating the ESP partition, a File node locating the loader binary inside
// it, and a terminating End-Entire node.
package devpath

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
	"github.com/fwupdcore/uefi-capsule-core/internal/efiguid"
)

// Device path node type/subtype pairs this package produces and consumes.
const (
	TypeMedia         = 0x04
	SubTypeHardDrive  = 0x01
	SubTypeFilePath   = 0x04
	TypeEnd           = 0x7f
	SubTypeEndEntire  = 0xff
	hdNodeLength      = 4 + 38
	endNodeLength     = 4
	PartitionFormatGPT = 0x02
	SignatureTypeGUID  = 0x02
)

var efiEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Node is one parsed device path element: header plus its raw payload.
type Node struct {
	Type    byte
	SubType byte
	Data    []byte
}

// HDInfo is the data an HD() node encodes: everything needed to identify a
// GPT partition independent of the enumeration order the firmware assigns
// at boot (spec.md §3.1 EspVolume entity).
type HDInfo struct {
	PartitionNumber uint32
	PartitionStart  uint64 // in logical blocks
	PartitionSize   uint64 // in logical blocks
	PartitionUUID   uuid.UUID
}

// BuildHDNode encodes a GPT-backed HD() node.
func BuildHDNode(info HDInfo) Node {
	data := make([]byte, 38)
	binary.LittleEndian.PutUint32(data[0:4], info.PartitionNumber)
	binary.LittleEndian.PutUint64(data[4:12], info.PartitionStart)
	binary.LittleEndian.PutUint64(data[12:20], info.PartitionSize)
	partMixed := efiguid.MixedEndianBytes(info.PartitionUUID)
	copy(data[20:36], partMixed[:])
	data[36] = PartitionFormatGPT
	data[37] = SignatureTypeGUID
	return Node{Type: TypeMedia, SubType: SubTypeHardDrive, Data: data}
}

// ParseHDNode decodes an HD() node back into HDInfo.
func ParseHDNode(n Node) (HDInfo, error) {
	if n.Type != TypeMedia || n.SubType != SubTypeHardDrive {
		return HDInfo{}, coreerr.New(coreerr.InvalidData, "not an HD() node: type=%#x subtype=%#x", n.Type, n.SubType)
	}
	if len(n.Data) != 38 {
		return HDInfo{}, coreerr.New(coreerr.InvalidData, "HD() node payload has length %d, want 38", len(n.Data))
	}
	if n.Data[36] != PartitionFormatGPT || n.Data[37] != SignatureTypeGUID {
		return HDInfo{}, coreerr.New(coreerr.InvalidData, "HD() node is not GPT/GUID-signature (format=%#x sigtype=%#x)", n.Data[36], n.Data[37])
	}
	id, err := efiguid.ParseMixedEndian(n.Data[20:36])
	if err != nil {
		return HDInfo{}, err
	}
	return HDInfo{
		PartitionNumber: binary.LittleEndian.Uint32(n.Data[0:4]),
		PartitionStart:  binary.LittleEndian.Uint64(n.Data[4:12]),
		PartitionSize:   binary.LittleEndian.Uint64(n.Data[12:20]),
		PartitionUUID:   id,
	}, nil
}

// BuildFileNode encodes a File() node for the given ESP-relative path as
// NUL-terminated UCS-2. The path is encoded as given; callers supply it
// with '\' as the EFI path separator.
func BuildFileNode(espRelativePath string) (Node, error) {
	encoded, _, err := transform.Bytes(efiEncoding.NewEncoder(), []byte(espRelativePath+"\x00"))
	if err != nil {
		return Node{}, coreerr.Wrap(coreerr.Internal, err, "encode file path node")
	}
	return Node{Type: TypeMedia, SubType: SubTypeFilePath, Data: encoded}, nil
}

// ParseFileNode decodes a File() node back into a path string.
func ParseFileNode(n Node) (string, error) {
	if n.Type != TypeMedia || n.SubType != SubTypeFilePath {
		return "", coreerr.New(coreerr.InvalidData, "not a File() node: type=%#x subtype=%#x", n.Type, n.SubType)
	}
	decoded, _, err := transform.Bytes(efiEncoding.NewDecoder(), n.Data)
	if err != nil {
		return "", coreerr.Wrap(coreerr.InvalidData, err, "decode file path node")
	}
	return string(bytes.TrimRight(decoded, "\x00")), nil
}

// EndEntireNode is the path-terminating node every device path list ends
// with.
func EndEntireNode() Node {
	return Node{Type: TypeEnd, SubType: SubTypeEndEntire}
}

// BuildESPPath composes the canonical [HD, File, EndEntire] device path for
// a loader binary on an ESP partition, then serializes it to bytes suitable
// for LoadOption.DevicePath.
func BuildESPPath(hd HDInfo, espRelativePath string) ([]byte, error) {
	fileNode, err := BuildFileNode(espRelativePath)
	if err != nil {
		return nil, err
	}
	return Marshal([]Node{BuildHDNode(hd), fileNode, EndEntireNode()})
}

// Marshal serializes a node list into the wire format: each node is
// {Type byte, SubType byte, Length uint16 (header-inclusive), Data}.
func Marshal(nodes []Node) ([]byte, error) {
	var buf bytes.Buffer
	for _, n := range nodes {
		length := 4 + len(n.Data)
		if length > 0xffff {
			return nil, coreerr.New(coreerr.Internal, "device path node too large: %d bytes", length)
		}
		buf.WriteByte(n.Type)
		buf.WriteByte(n.SubType)
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(length))
		buf.Write(lenBuf[:])
		buf.Write(n.Data)
	}
	return buf.Bytes(), nil
}

// Parse decodes a serialized device path node list, stopping once an
// End-Entire node is consumed.
func Parse(data []byte) ([]Node, error) {
	var nodes []Node
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, coreerr.New(coreerr.InvalidData, "truncated device path node header: %d bytes left", len(data))
		}
		typ, sub := data[0], data[1]
		length := int(binary.LittleEndian.Uint16(data[2:4]))
		if length < 4 || length > len(data) {
			return nil, coreerr.New(coreerr.InvalidData, "device path node length %d out of range (have %d bytes)", length, len(data))
		}
		node := Node{Type: typ, SubType: sub, Data: append([]byte(nil), data[4:length]...)}
		nodes = append(nodes, node)
		data = data[length:]
		if typ == TypeEnd && sub == SubTypeEndEntire {
			break
		}
	}
	return nodes, nil
}

// FindFilePath returns the ESP-relative path encoded by the first File()
// node in a device path node list, used by backends that need to recover
// the loader path from an existing BootXXXX entry.
func FindFilePath(nodes []Node) (string, error) {
	for _, n := range nodes {
		if n.Type == TypeMedia && n.SubType == SubTypeFilePath {
			return ParseFileNode(n)
		}
	}
	return "", coreerr.New(coreerr.NotFound, "device path contains no File() node")
}
