package ext4

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// rawGroupDesc mirrors ext_group_desc (64-bit layout; the low 32 bytes
// alone are the 32-bit layout used when the 64BIT incompat feature is
// absent or desc_size == 32).
type rawGroupDesc struct {
	BlockBitmapLo     uint32
	InodeBitmapLo     uint32
	InodeTableLo      uint32
	FreeBlocksCountLo uint16
	FreeInodesCountLo uint16
	UsedDirsCountLo   uint16
	Flags             uint16
	ExcludeBitmapLo   uint32
	BlockBitmapCsumLo uint16
	InodeBitmapCsumLo uint16
	ItableUnusedLo    uint16
	Checksum          uint16

	BlockBitmapHi     uint32
	InodeBitmapHi     uint32
	InodeTableHi      uint32
	FreeBlocksCountHi uint16
	FreeInodesCountHi uint16
	UsedDirsCountHi   uint16
	ItableUnusedHi    uint16
	ExcludeBitmapHi   uint32
	BlockBitmapCsumHi uint16
	InodeBitmapCsumHi uint16
	Reserved          uint32
}

const groupDescSize64 = 64

func decodeGroupDesc(buf []byte, descSize uint32) (*rawGroupDesc, error) {
	var raw rawGroupDesc
	padded := buf
	if uint32(len(buf)) < groupDescSize64 {
		padded = make([]byte, groupDescSize64)
		copy(padded, buf)
	}
	if err := binary.Read(bytes.NewReader(padded), binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("decoding group descriptor: %w", err)
	}
	return &raw, nil
}

func (g *rawGroupDesc) inodeTable(is64Bit bool) uint64 {
	table := uint64(g.InodeTableLo)
	if is64Bit {
		table |= uint64(g.InodeTableHi) << 32
	}
	return table
}

// readGroupDescriptor loads and decodes group descriptor `bg` for sb,
// following the layout of ext_get_inode's group-descriptor lookup: the
// descriptor table begins right after the superblock, at
// LBA partStart + max(blockSize, 2048)/512.
func readGroupDescriptor(b sectorReader, partStart uint64, sb *superblock, bg uint32) (*rawGroupDesc, error) {
	blockGroupsLen := sb.blockGroups * sb.descSize
	if blockGroupsLen%sectorSize != 0 {
		blockGroupsLen += sectorSize - blockGroupsLen%sectorSize
	}
	gdtLBA := partStart + maxU64(sb.blockSize, 2048)/sectorSize
	buf := make([]byte, blockGroupsLen)
	if err := readAtLBA(b, gdtLBA, buf); err != nil {
		return nil, err
	}
	off := bg * sb.descSize
	if uint64(off)+groupDescSize64 > uint64(len(buf)) && uint64(off)+32 > uint64(len(buf)) {
		return nil, fmt.Errorf("block group %d out of range: %w", bg, errInvalidFormat)
	}
	end := off + sb.descSize
	if uint64(end) > uint64(len(buf)) {
		end = uint32(len(buf))
	}
	return decodeGroupDesc(buf[off:end], sb.descSize)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
