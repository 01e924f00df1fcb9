// Package bootdrive builds the UBI B_BDRIVE payload describing the drive a
// kernel was booted from, grounded on original_source/boot/ubi/ubi.c's
// ubi_create_bdrive_table and the ubi_b_bdrive_table layout in ubi.h.
package bootdrive

import (
	"github.com/google/uuid"

	"github.com/sxboot/s1boot/partition/part"
)

// Format identifies the partition-table format a boot drive uses. The
// reference implementation reads this out of its own partition-table
// driver; since partition/gpt and partition/mbr were not retrievable (see
// DESIGN.md), the caller -- which already knows which driver it opened --
// supplies it directly.
type Format uint16

const (
	FormatUnknown Format = 0
	FormatMBR     Format = 1
	FormatGPT     Format = 2
)

// Info is the decoded form of ubi_b_bdrive_table, independent of its wire
// encoding (see loader/ubi/bdrive.go for that).
type Info struct {
	// Type is an 8-byte ASCII tag naming the physical drive kind (e.g.
	// "HDD", "NVME", "USB"), truncated/zero-padded to 8 bytes on encode.
	Type            string
	PartitionFormat Format
	// Signature is the partition's identifying UUID/GUID, 16 bytes.
	Signature [16]byte
	PartNum   uint32
	// Other carries the firmware boot-drive index (s1data->bootDrive in
	// the reference implementation).
	Other uint32
}

// From derives Info from a resolved partition and the drive-level metadata
// the out-of-scope boot-device selector already knows: which physical
// drive index was booted from and what table format it used.
//
// The partition UUID string is parsed with google/uuid rather than hand
// rolled, matching how partition/gpt (elsewhere in the pack) already
// depends on this module for GUID handling.
func From(driveType string, format Format, p part.Partition, driveIndex uint32) Info {
	info := Info{
		Type:            driveType,
		PartitionFormat: format,
		PartNum:         uint32(p.GetIndex()),
		Other:           driveIndex,
	}
	if id, err := uuid.Parse(p.UUID()); err == nil {
		copy(info.Signature[:], id[:])
	}
	return info
}
