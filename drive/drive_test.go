package drive

import (
	"encoding/binary"
	"testing"

	"github.com/sxboot/s1boot/backend/file"
	"github.com/sxboot/s1boot/bootdrive"
	"github.com/sxboot/s1boot/testhelper"
)

const blockSize = 1024

func putAt(img []byte, off int, b []byte) {
	copy(img[off:], b)
}

func le16(img []byte, off int, v uint16) { binary.LittleEndian.PutUint16(img[off:], v) }
func le32(img []byte, off int, v uint32) { binary.LittleEndian.PutUint32(img[off:], v) }

// encodeDirEntry packs one ext_dir_entry: 4-byte inode, 2-byte rec_len,
// 1-byte name_len, 1-byte file_type, then the name bytes, mirroring
// filesystem/ext4's own on-disk layout (see its ext4_test.go).
func encodeDirEntry(inode uint32, name string, fileType uint8) []byte {
	b := make([]byte, 8+len(name))
	binary.LittleEndian.PutUint32(b[0:4], inode)
	binary.LittleEndian.PutUint16(b[4:6], uint16(len(b)))
	b[6] = uint8(len(name))
	b[7] = fileType
	copy(b[8:], name)
	return b
}

// buildMinimalExt4Image hand-builds a 10-block (block size 1024), 256-byte
// inode ext2-shaped image with a single root-level file, grounded on the
// same byte layout filesystem/ext4/ext4_test.go's buildDirectImage uses:
// superblock at block 1, group descriptor at block 2 (InodeTableLo=3), a
// 4-block inode table spanning blocks 3-6, root inode (#2) data at block 7,
// and the file's own inode (#11) and data block (8).
func buildMinimalExt4Image(t *testing.T, contents []byte) []byte {
	t.Helper()
	const totalBlocks = 10
	img := make([]byte, totalBlocks*blockSize)

	const sbOff = 1 * blockSize
	le32(img, sbOff+0, 16)          // InodesCount
	le32(img, sbOff+40, 16)         // InodesPerGroup
	le32(img, sbOff+32, totalBlocks) // BlocksPerGroup
	le32(img, sbOff+36, totalBlocks) // ClustersPerGroup
	le16(img, sbOff+56, 0xEF53)     // Magic
	le32(img, sbOff+76, 1)          // RevLevel
	le16(img, sbOff+88, 256)        // InodeSize
	le32(img, sbOff+96, 0)          // FeatureIncompat

	const gdOff = 2 * blockSize
	le32(img, gdOff+8, 3) // InodeTableLo

	const inodeTableBlock = 3
	rootInodeOff := inodeTableBlock*blockSize + (2-1)*256
	le16(img, rootInodeOff+0, 0x4000) // Mode: directory
	le32(img, rootInodeOff+4, blockSize) // SizeLo
	le32(img, rootInodeOff+40, 7)        // Block[0]: root dir data

	const fileInode = 11
	fileInodeOff := inodeTableBlock*blockSize + (fileInode-1)*256
	le16(img, fileInodeOff+0, 0x8000)          // Mode: regular file
	le32(img, fileInodeOff+4, uint32(len(contents))) // SizeLo
	le32(img, fileInodeOff+40, 8)                    // Block[0]: file data

	rootDir := append(encodeDirEntry(2, ".", 2), encodeDirEntry(2, "..", 2)...)
	rootDir = append(rootDir, encodeDirEntry(fileInode, "hello", 1)...)
	putAt(img, 7*blockSize, rootDir)

	putAt(img, 8*blockSize, contents)

	return img
}

// memStorage wraps an in-memory image as the ReadAt/WriteAt shape
// testhelper.FileImpl expects, so backend/file.New can turn it into a real
// backend.Storage without a disk or block device.
func memStorage(img []byte) *testhelper.FileImpl {
	return &testhelper.FileImpl{
		Reader: func(b []byte, offset int64) (int, error) {
			return copy(b, img[offset:]), nil
		},
	}
}

func TestMountReadFileAndFileSize(t *testing.T) {
	contents := []byte("hello from a mounted ext4 partition")
	img := buildMinimalExt4Image(t, contents)
	storage := file.New(memStorage(img), true)

	s := NewSet()
	if err := s.Mount("disk0", storage, WholeDisk{Size: int64(len(img))}, bootdrive.FormatGPT, "NVME", 1); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	size, err := s.FileSize("/disk0/hello")
	if err != nil {
		t.Fatalf("FileSize: %v", err)
	}
	if size != uint64(len(contents)) {
		t.Fatalf("FileSize = %d, want %d", size, len(contents))
	}

	data, err := s.ReadFile("/disk0/hello")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != string(contents) {
		t.Fatalf("ReadFile = %q, want %q", data, contents)
	}
}

func TestReadFileUnknownLabel(t *testing.T) {
	s := NewSet()
	if _, err := s.ReadFile("/missing/hello"); err == nil {
		t.Fatalf("expected an error for an unmounted label")
	}
}

func TestReadFileNoPartitionComponent(t *testing.T) {
	s := NewSet()
	if _, err := s.ReadFile("hello"); err == nil {
		t.Fatalf("expected an error for a path with no leading partition label")
	}
}

func TestBootDriveInfo(t *testing.T) {
	img := buildMinimalExt4Image(t, []byte("x"))
	storage := file.New(memStorage(img), true)

	s := NewSet()
	if err := s.Mount("disk0", storage, WholeDisk{Size: int64(len(img))}, bootdrive.FormatGPT, "NVME", 3); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	info, err := s.BootDriveInfo("disk0")
	if err != nil {
		t.Fatalf("BootDriveInfo: %v", err)
	}
	if info.Type != "NVME" || info.PartitionFormat != bootdrive.FormatGPT || info.Other != 3 {
		t.Fatalf("BootDriveInfo = %+v, want Type=NVME Format=GPT Other=3", info)
	}

	if _, err := s.BootDriveInfo("missing"); err == nil {
		t.Fatalf("expected an error for an unmounted label")
	}
}

func TestSplitDrivePath(t *testing.T) {
	cases := []struct {
		in, wantPart, wantRest string
	}{
		{"/disk0/boot/kernel", "disk0", "/boot/kernel"},
		{"/disk0", "disk0", ""},
		{"noslash", "", "noslash"},
		{"", "", ""},
	}
	for _, c := range cases {
		part, rest := splitDrivePath(c.in)
		if part != c.wantPart || rest != c.wantRest {
			t.Errorf("splitDrivePath(%q) = (%q, %q), want (%q, %q)", c.in, part, rest, c.wantPart, c.wantRest)
		}
	}
}
