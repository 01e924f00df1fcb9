package ext4

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	extMagic = 0xEF53

	extIncompatCompression = 0x1
	extIncompatFiletype    = 0x2
	extIncompatRecover     = 0x4
	extIncompatJournalDev  = 0x8
	extIncompatMetaBG      = 0x10
	extIncompatExtents     = 0x40
	extIncompat64Bit       = 0x80
	extIncompatMMP         = 0x100
	extIncompatFlexBG      = 0x200
	extIncompatEAInode     = 0x400
	extIncompatDirdata     = 0x1000
	extIncompatCsumSeed    = 0x2000
	extIncompatLargedir    = 0x4000
	extIncompatInlineData  = 0x8000
	extIncompatEncrypt     = 0x10000

	// extIncompatSupport is every incompat feature this read-only reader
	// recognises; any other bit set in the superblock aborts probe.
	extIncompatSupport = extIncompatFiletype | extIncompat64Bit | extIncompatExtents |
		extIncompatFlexBG | extIncompatRecover | extIncompatJournalDev

	sectorSize          = 512
	superblockLBAOffset = 2 // LBA partStart+2, in 512-byte sectors
	superblockReadLen   = 1024
)

// rawSuperblock mirrors ext_superblock from the original C header,
// decoded field-by-field since Go gives no guarantee a Go struct matches
// an on-disk little-endian packed C layout.
type rawSuperblock struct {
	InodesCount         uint32
	BlocksCountLo       uint32
	RBlocksCountLo      uint32
	FreeBlocksCountLo   uint32
	FreeInodesCount     uint32
	FirstDataBlock      uint32
	LogBlockSize        uint32
	LogClusterSize      uint32
	BlocksPerGroup      uint32
	ClustersPerGroup    uint32
	InodesPerGroup      uint32
	Mtime               uint32
	Wtime                uint32
	MntCount            uint16
	MaxMntCount         uint16
	Magic               uint16
	State               uint16
	Errors              uint16
	MinorRevLevel       uint16
	Lastcheck           uint32
	Checkinterval       uint32
	CreatorOS           uint32
	RevLevel            uint32
	DefResuid           uint16
	DefResgid           uint16
	FirstIno            uint32
	InodeSize           uint16
	BlockGroupNr        uint16
	FeatureCompat       uint32
	FeatureIncompat     uint32
	FeatureROCompat     uint32
	UUID                [16]byte
	VolumeName          [16]byte
	LastMounted         [64]byte
	AlgorithmUsageBmp   uint32
	PreallocBlocks      uint8
	PreallocDirBlocks   uint8
	ReservedGDTBlocks   uint16
	JournalUUID         [16]byte
	JournalInum         uint32
	JournalDev          uint32
	LastOrphan          uint32
	HashSeed            [4]uint32
	DefHashVersion      uint8
	JnlBackupType       uint8
	DescSize            uint16
	DefaultMountOpts    uint32
	FirstMetaBG         uint32
	MkfsTime            uint32
	JnlBlocks           [17]uint32
	BlocksCountHi       uint32
	RBlocksCountHi      uint32
	FreeBlocksCountHi   uint32
	MinExtraIsize       uint16
	WantExtraIsize      uint16
	Flags               uint32
}

// superblock is the subset of rawSuperblock the reader actually consults,
// plus derived values computed once at probe/open time.
type superblock struct {
	raw            rawSuperblock
	blockSize      uint64
	inodeSize      uint32
	descSize       uint32
	blockGroups    uint32
	volumeName     string
}

func decodeSuperblock(buf []byte) (*rawSuperblock, error) {
	if len(buf) < superblockReadLen {
		return nil, fmt.Errorf("superblock buffer too small (%d bytes): %w", len(buf), errInvalidFormat)
	}
	var raw rawSuperblock
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("decoding superblock: %w", err)
	}
	return &raw, nil
}

// readRawSuperblock reads the 1024-byte superblock at LBA partStart+2.
func readRawSuperblock(b sectorReader, partStart uint64) (*rawSuperblock, error) {
	buf := make([]byte, superblockReadLen)
	if err := readAtLBA(b, partStart+superblockLBAOffset, buf); err != nil {
		return nil, err
	}
	return decodeSuperblock(buf)
}

// probeRaw mirrors vfs_isFilesystem: magic must match and every incompat
// bit set must be one this reader recognises.
func probeRaw(raw *rawSuperblock) bool {
	return raw.Magic == extMagic && raw.FeatureIncompat&^uint32(extIncompatSupport) == 0
}

func newSuperblock(raw *rawSuperblock) (*superblock, error) {
	if !probeRaw(raw) {
		return nil, fmt.Errorf("superblock magic 0x%x or incompat features 0x%x unsupported: %w",
			raw.Magic, raw.FeatureIncompat, errInvalidFormat)
	}
	descSize := uint32(32)
	if raw.FeatureIncompat&extIncompat64Bit != 0 && raw.DescSize > 32 {
		descSize = uint32(raw.DescSize)
	}
	inodeSize := uint32(128)
	if raw.RevLevel > 0 {
		inodeSize = uint32(raw.InodeSize)
	}
	blockGroups := raw.InodesCount / raw.InodesPerGroup
	name := string(bytes.TrimRight(raw.VolumeName[:], "\x00"))
	return &superblock{
		raw:         *raw,
		blockSize:   1 << (10 + raw.LogBlockSize),
		inodeSize:   inodeSize,
		descSize:    descSize,
		blockGroups: blockGroups,
		volumeName:  name,
	}, nil
}

func (s *superblock) is64Bit() bool {
	return s.raw.FeatureIncompat&extIncompat64Bit != 0
}
