package ext4

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// encodeStruct little-endian-encodes v (a fixed-layout struct of the kind
// this package decodes with encoding/binary) into a byte slice.
func encodeStruct(t *testing.T, v interface{}) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("encoding %T: %v", v, err)
	}
	return buf.Bytes()
}

// encodeDirEntry packs one ext_dir_entry: an 8-byte fixed header followed
// by the (unpadded) name bytes.
func encodeDirEntry(inode uint32, name string, fileType uint8) []byte {
	b := make([]byte, dirEntryHeaderSize+len(name))
	binary.LittleEndian.PutUint32(b[0:4], inode)
	binary.LittleEndian.PutUint16(b[4:6], uint16(len(b)))
	b[6] = uint8(len(name))
	b[7] = fileType
	copy(b[8:], name)
	return b
}

// putAt copies src into dst starting at byte offset off, growing dst's
// backing array is not attempted -- callers size dst up front.
func putAt(dst []byte, off int, src []byte) {
	copy(dst[off:], src)
}

// buildDirectImage constructs a minimal ext2-shaped image (block size 1024,
// 128-byte... actually 256-byte inodes, direct + single-indirect block
// pointers, no extents) with a root directory containing "boot/kernel",
// matching spec.md §8 scenario 1's layout style.
func buildDirectImage(t *testing.T, fileSize int) []byte {
	t.Helper()
	const blockSize = 1024
	const totalBlocks = 24
	img := make([]byte, totalBlocks*blockSize)

	sb := rawSuperblock{
		InodesCount:      16,
		BlocksCountLo:    totalBlocks,
		InodesPerGroup:   16,
		BlocksPerGroup:   totalBlocks,
		ClustersPerGroup: totalBlocks,
		Magic:            extMagic,
		RevLevel:         1,
		InodeSize:        256,
		FeatureIncompat:  0,
	}
	putAt(img, 1*blockSize, encodeStruct(t, &sb))

	gd := rawGroupDesc{InodeTableLo: 3}
	putAt(img, 2*blockSize, encodeStruct(t, &gd))

	rootInode := rawInode{Mode: 0x4000, SizeLo: blockSize}
	rootInode.Block[0] = 6
	putAt(img, 3*blockSize+1*256, encodeStruct(t, &rootInode))

	bootInode := rawInode{Mode: 0x4000, SizeLo: blockSize}
	bootInode.Block[0] = 7
	putAt(img, 5*blockSize+512, encodeStruct(t, &bootInode))

	fileInode := rawInode{Mode: 0x8000, SizeLo: uint32(fileSize)}
	for i := 0; i < 12 && i*blockSize < fileSize; i++ {
		fileInode.Block[i] = uint32(8 + i)
	}
	if fileSize > 12*blockSize {
		fileInode.BlockI1 = 20
	}
	putAt(img, 5*blockSize+768, encodeStruct(t, &fileInode))

	rootDir := append(encodeDirEntry(2, ".", inodeTypeDirectory), encodeDirEntry(2, "..", inodeTypeDirectory)...)
	rootDir = append(rootDir, encodeDirEntry(11, "boot", inodeTypeDirectory)...)
	putAt(img, 6*blockSize, rootDir)

	bootDir := append(encodeDirEntry(11, ".", inodeTypeDirectory), encodeDirEntry(2, "..", inodeTypeDirectory)...)
	bootDir = append(bootDir, encodeDirEntry(12, "kernel", inodeTypeFile)...)
	putAt(img, 7*blockSize, bootDir)

	for i := 0; i < 12; i++ {
		block := make([]byte, blockSize)
		for j := range block {
			block[j] = byte(i)
		}
		putAt(img, (8+i)*blockSize, block)
	}

	indirect := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(indirect[0:4], 21)
	putAt(img, 20*blockSize, indirect)

	lastBlock := make([]byte, blockSize)
	for j := range lastBlock {
		if j < fileSize-12*blockSize {
			lastBlock[j] = 12
		} else {
			lastBlock[j] = 0xff // beyond EOF: must never be copied out
		}
	}
	putAt(img, 21*blockSize, lastBlock)

	return img
}

func TestPathResolutionDirectAndIndirectBlocks(t *testing.T) {
	const fileSize = 13000 // 12 direct blocks + a partial single-indirect block
	img := buildDirectImage(t, fileSize)

	fs, err := Read(bytes.NewReader(img), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	size, err := fs.FileSize("/boot/kernel")
	if err != nil {
		t.Fatalf("FileSize: %v", err)
	}
	if size != fileSize {
		t.Fatalf("FileSize = %d, want %d", size, fileSize)
	}

	data, err := fs.ReadFile("/boot/kernel")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != fileSize {
		t.Fatalf("ReadFile returned %d bytes, want %d", len(data), fileSize)
	}
	for i := 0; i < 12; i++ {
		for j := 0; j < 1024; j++ {
			if got := data[i*1024+j]; got != byte(i) {
				t.Fatalf("block %d byte %d = %#x, want %#x", i, j, got, i)
			}
		}
	}
	tail := data[12*1024:]
	for i, b := range tail {
		if b != 12 {
			t.Fatalf("tail byte %d = %#x, want 0x0c (no bytes past EOF should leak in)", i, b)
		}
	}
}

func TestReadDirFiltersDotEntries(t *testing.T) {
	img := buildDirectImage(t, 100)
	fs, err := Read(bytes.NewReader(img), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	entries, err := fs.ReadDir("boot")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "kernel" {
		t.Fatalf("ReadDir(boot) = %v, want exactly [kernel]", entries)
	}

	if _, err := fs.ReadDir("/boot"); err == nil {
		t.Fatalf("ReadDir(/boot) should have errored: fs.FS paths must not start with /")
	}
	if _, err := fs.ReadDir("/"); err == nil {
		t.Fatalf("ReadDir(/) should have errored: the root is spelled \".\"")
	}
	if _, err := fs.Open("/boot/kernel"); err == nil {
		t.Fatalf("Open(/boot/kernel) should have errored: fs.FS paths must not start with /")
	}
	if _, err := fs.Open("boot/kernel"); err != nil {
		t.Fatalf("Open(boot/kernel): %v", err)
	}
}

// buildExtentImage constructs an ext4-shaped image (block size 4096) whose
// sole file is described by two depth-0 extents, matching spec.md §8
// scenario 2 exactly: file_block 0 (len 4, disk start 100) and file_block 4
// (len 2, disk start 200).
func buildExtentImage(t *testing.T) []byte {
	t.Helper()
	const blockSize = 4096
	const imgSize = 827392 // covers extent 1's data through its last byte
	img := make([]byte, imgSize)

	sb := rawSuperblock{
		InodesCount:      16,
		InodesPerGroup:   16,
		BlocksPerGroup:   256,
		ClustersPerGroup: 256,
		Magic:            extMagic,
		RevLevel:         1,
		InodeSize:        256,
		LogBlockSize:     2, // 1024 << 2 == 4096
		FeatureIncompat:  extIncompatExtents,
	}
	putAt(img, 0*blockSize+1024, encodeStruct(t, &sb))

	gd := rawGroupDesc{InodeTableLo: 2}
	putAt(img, 1*blockSize, encodeStruct(t, &gd))

	rootInode := rawInode{Mode: 0x4000, SizeLo: blockSize}
	rootInode.Block[0] = 3
	putAt(img, 2*blockSize+256, encodeStruct(t, &rootInode))

	fileInode := rawInode{Mode: 0x8000, SizeLo: 24576, Flags: inodeFlagUsesExtents}
	extentBytes := encodeStruct(t, &rawExtentHeader{Magic: extExtentHeaderMagic, Entries: 2, Max: 4, Depth: 0})
	extentBytes = append(extentBytes, encodeStruct(t, &rawExtent{Block: 0, Len: 4, StartLo: 100})...)
	extentBytes = append(extentBytes, encodeStruct(t, &rawExtent{Block: 4, Len: 2, StartLo: 200})...)
	fileInodeBytes := encodeStruct(t, &fileInode)
	copy(fileInodeBytes[40:40+len(extentBytes)], extentBytes)
	putAt(img, 2*blockSize+2560, fileInodeBytes)

	rootDir := append(encodeDirEntry(2, ".", inodeTypeDirectory), encodeDirEntry(2, "..", inodeTypeDirectory)...)
	rootDir = append(rootDir, encodeDirEntry(11, "kernel", inodeTypeFile)...)
	putAt(img, 3*blockSize, rootDir)

	extent0 := make([]byte, 4*blockSize)
	for i := range extent0 {
		extent0[i] = byte(i % 251)
	}
	putAt(img, 100*blockSize, extent0)

	extent1 := make([]byte, 2*blockSize)
	for i := range extent1 {
		extent1[i] = byte((i + 37) % 251)
	}
	putAt(img, 200*blockSize, extent1)

	return img
}

func TestExtentRead(t *testing.T) {
	img := buildExtentImage(t)
	fs, err := Read(bytes.NewReader(img), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	data, err := fs.ReadFile("/kernel")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 24576 {
		t.Fatalf("len(data) = %d, want 24576", len(data))
	}
	for i := 0; i < 16384; i++ {
		if want := byte(i % 251); data[i] != want {
			t.Fatalf("byte %d = %#x, want %#x (from extent 0)", i, data[i], want)
		}
	}
	for i := 0; i < 8192; i++ {
		if want := byte((i + 37) % 251); data[16384+i] != want {
			t.Fatalf("byte %d = %#x, want %#x (from extent 1)", 16384+i, data[16384+i], want)
		}
	}
}

func TestProbeRejectsUnrecognizedIncompatFeature(t *testing.T) {
	const blockSize = 1024
	img := make([]byte, 4*blockSize)
	sb := rawSuperblock{
		InodesCount:     16,
		InodesPerGroup:  16,
		Magic:           extMagic,
		RevLevel:        1,
		InodeSize:       256,
		FeatureIncompat: extIncompatEncrypt, // not in extIncompatSupport
	}
	putAt(img, 1*blockSize, encodeStruct(t, &sb))

	if _, err := Read(bytes.NewReader(img), 0); err == nil {
		t.Fatalf("expected Read to reject an unrecognized incompat feature bit")
	}
}
