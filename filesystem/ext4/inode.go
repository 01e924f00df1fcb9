package ext4

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	inodeTypeFile      = 1
	inodeTypeDirectory = 2

	inodeFlagUsesExtents uint32 = 0x80000
)

// rawInode mirrors ext_inode, decoded field-by-field with
// encoding/binary.LittleEndian rather than an unsafe cast, matching the
// teacher's own inodeFromBytes approach for the same problem.
type rawInode struct {
	Mode        uint16
	UID         uint16
	SizeLo      uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	GID         uint16
	LinksCount  uint16
	BlocksLo    uint32
	Flags       uint32
	OSD1        uint32
	Block       [12]uint32
	BlockI1     uint32
	BlockI2     uint32
	BlockI3     uint32
	Generation  uint32
	FileACLLo   uint32
	SizeHigh    uint32
	ObsoFaddr   uint32
	OSD2        [12]byte
	ExtraIsize  uint16
	ChecksumHi  uint16
	CtimeExtra  uint32
	MtimeExtra  uint32
	AtimeExtra  uint32
	Crtime      uint32
	CrtimeExtra uint32
	VersionHi   uint32
	Projid      uint32
}

const rawInodeSize = 160 // bytes actually occupied by rawInode's fields

func decodeInode(buf []byte) (*rawInode, error) {
	if len(buf) < rawInodeSize {
		return nil, fmt.Errorf("inode buffer too small (%d bytes): %w", len(buf), errInvalidFormat)
	}
	var raw rawInode
	if err := binary.Read(bytes.NewReader(buf[:rawInodeSize]), binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("decoding inode: %w", err)
	}
	return &raw, nil
}

func (i *rawInode) usesExtents() bool {
	return i.Flags&inodeFlagUsesExtents != 0
}

// extentAreaBytes re-encodes the 60-byte block-pointer area (i_blocks[12]
// plus the three indirect pointers) back into its on-disk byte form, which
// is where an extent-tree root lives when usesExtents() is true.
func (i *rawInode) extentAreaBytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, i.Block)
	binary.Write(buf, binary.LittleEndian, i.BlockI1)
	binary.Write(buf, binary.LittleEndian, i.BlockI2)
	binary.Write(buf, binary.LittleEndian, i.BlockI3)
	return buf.Bytes()
}

// fileType reports the inode's type as the ext_dir_entry file_type values
// (EXT_INODE_TYPE_FILE / EXT_INODE_TYPE_DIRECTORY), derived from the
// i_mode format bits (S_IFREG/S_IFDIR), since a raw inode fetched by
// number (rather than via a directory entry) carries no file_type field of
// its own.
func (i *rawInode) fileType() uint8 {
	switch i.Mode & 0xF000 {
	case 0x4000:
		return inodeTypeDirectory
	default:
		return inodeTypeFile
	}
}

// readInode implements ext_get_inode: locate the block group, then the
// inode's slot within that group's inode table, and decode it. Only the
// first min(s_inode_size, rawInodeSize) on-disk bytes belong to this
// inode's record (128-byte inodes carry none of the "extra" fields past
// rawInode's osd2/obso_faddr region); the rest of rawInode is left zeroed
// rather than read out of the following inode's slot.
func readInode(b sectorReader, partStart uint64, sb *superblock, inode uint32) (*rawInode, error) {
	bg := (inode - 1) / sb.raw.InodesPerGroup
	gd, err := readGroupDescriptor(b, partStart, sb, bg)
	if err != nil {
		return nil, err
	}
	inodeTable := gd.inodeTable(sb.is64Bit())
	inodeTableOff := ((inode - 1) % sb.raw.InodesPerGroup) * sb.inodeSize
	blockOff := uint64(inodeTableOff) - uint64(inodeTableOff)%sb.blockSize
	lba := (blockOff + inodeTable*sb.blockSize) / sectorSize + partStart

	buf := make([]byte, sb.blockSize)
	if err := readAtLBA(b, lba, buf); err != nil {
		return nil, err
	}
	within := uint64(inodeTableOff) % sb.blockSize
	avail := uint64(sb.inodeSize)
	if within+avail > uint64(len(buf)) {
		return nil, fmt.Errorf("inode %d slot out of range: %w", inode, errInvalidFormat)
	}
	record := make([]byte, rawInodeSize)
	n := avail
	if n > rawInodeSize {
		n = rawInodeSize
	}
	copy(record, buf[within:within+n])
	return decodeInode(record)
}
