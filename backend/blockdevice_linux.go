//go:build linux
// +build linux

package backend

import (
	"fmt"
	"io/fs"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	blkSSZGet    = 0x1268     // BLKSSZGET: logical sector size
	blkGetSize64 = 0x80081272 // BLKGETSIZE64: device size in bytes
)

// Geometry is a block device's real sector size and total size, queried
// from the kernel rather than trusted from Stat() (a raw device node's
// apparent size is usually zero).
type Geometry struct {
	SectorSize int
	TotalSize  uint64
}

// blockDevice is a read-only Storage backed directly by an *os.File open on
// a Linux block device node, grounded on the teacher's disk_unix.go
// (ReReadPartitionTable), which queries the same fd via unix.IoctlGetInt
// rather than trusting anything the filesystem layer reports.
type blockDevice struct {
	f *os.File
}

var _ Storage = blockDevice{}

func (b blockDevice) Stat() (fs.FileInfo, error)             { return b.f.Stat() }
func (b blockDevice) Read(p []byte) (int, error)             { return b.f.Read(p) }
func (b blockDevice) Close() error                           { return b.f.Close() }
func (b blockDevice) ReadAt(p []byte, off int64) (int, error) { return b.f.ReadAt(p, off) }
func (b blockDevice) Seek(offset int64, whence int) (int64, error) {
	return b.f.Seek(offset, whence)
}
func (b blockDevice) Sys() (*os.File, error) { return b.f, nil }
func (b blockDevice) Writable() (WritableFile, error) {
	return nil, ErrIncorrectOpenMode
}

// OpenBlockDevice opens a Linux block device node (e.g. /dev/sda) directly
// as a read-only Storage and reports its real sector size and total size,
// queried via the same BLKSSZGET/BLKGETSIZE64 ioctls a partitioning tool
// would use -- the one piece of the teacher's disk/ package (see
// DESIGN.md) worth keeping once the rest of that package (image-file
// creation, qcow2, MBR/GPT writing) was dropped as out of scope.
func OpenBlockDevice(path string) (Storage, Geometry, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, Geometry{}, fmt.Errorf("opening block device %s: %w", path, err)
	}

	sectorSize, err := unix.IoctlGetInt(int(f.Fd()), blkSSZGet)
	if err != nil {
		f.Close()
		return nil, Geometry{}, fmt.Errorf("querying sector size of %s: %w", path, err)
	}

	var totalSize uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(blkGetSize64), uintptr(unsafe.Pointer(&totalSize))); errno != 0 {
		f.Close()
		return nil, Geometry{}, fmt.Errorf("querying size of %s: %w", path, errno)
	}

	return blockDevice{f: f}, Geometry{SectorSize: sectorSize, TotalSize: totalSize}, nil
}
