// Package ext4 implements a read-only reader for ext2/3/4 filesystems,
// enough to locate and read files that were written by a full read-write
// implementation. There is no write support and no journal replay: the
// core only ever needs to fetch a handful of boot-time files and list
// directories.
package ext4

import (
	"bytes"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/sxboot/s1boot/filesystem"
)

const rootInode = 2

// FileSystem is a single mounted ext2/3/4 filesystem, read-only.
type FileSystem struct {
	b         sectorReader
	partStart uint64
	sb        *superblock
}

// Read probes the device starting at partStart (in 512-byte sectors) for an
// ext2/3/4 superblock and, if one is found, returns a FileSystem ready for
// path lookups. It returns errInvalidFormat if the signature or incompat
// feature set don't match, mirroring vfs_isFilesystem.
func Read(b sectorReader, partStart uint64) (*FileSystem, error) {
	raw, err := readRawSuperblock(b, partStart)
	if err != nil {
		return nil, err
	}
	sb, err := newSuperblock(raw)
	if err != nil {
		return nil, err
	}
	return &FileSystem{b: b, partStart: partStart, sb: sb}, nil
}

// Type reports the filesystem kind, always TypeExt4.
func (f *FileSystem) Type() filesystem.Type {
	return filesystem.TypeExt4
}

// Label returns the filesystem's volume label, or "" if none was set.
func (f *FileSystem) Label() string {
	return f.sb.volumeName
}

func splitPath(pathname string) []string {
	pathname = strings.Trim(pathname, "/")
	if pathname == "" || pathname == "." {
		return nil
	}
	return strings.Split(pathname, "/")
}

// resolvePath implements ext_get_path_inode: walk the path component by
// component from the root inode, requiring every intermediate component to
// be a directory and resolving ties by taking the first matching entry (the
// scan order of readDirEntries, which is on-disk order).
func (f *FileSystem) resolvePath(pathname string) (uint32, *rawInode, error) {
	components := splitPath(pathname)

	inodeNum := uint32(rootInode)
	inode, err := readInode(f.b, f.partStart, f.sb, inodeNum)
	if err != nil {
		return 0, nil, err
	}

	for i, name := range components {
		if inode.fileType() != inodeTypeDirectory {
			return 0, nil, fmt.Errorf("%q is not a directory: %w", strings.Join(components[:i], "/"), errInvalidFormat)
		}
		contents, err := readInodeContents(f.b, f.partStart, f.sb, inode)
		if err != nil {
			return 0, nil, err
		}
		entry, err := findDirEntry(contents, name)
		if err != nil {
			return 0, nil, err
		}
		if entry == nil {
			return 0, nil, errNoSuchFile
		}
		inodeNum = entry.Inode
		inode, err = readInode(f.b, f.partStart, f.sb, inodeNum)
		if err != nil {
			return 0, nil, err
		}
	}
	return inodeNum, inode, nil
}

// FileSize returns the exact byte length of the named file, without
// reading its contents.
func (f *FileSystem) FileSize(pathname string) (uint64, error) {
	_, inode, err := f.resolvePath(pathname)
	if err != nil {
		return 0, err
	}
	if inode.fileType() != inodeTypeFile {
		return 0, errNoSuchFile
	}
	if inode.SizeHigh != 0 {
		return 0, errTooLarge
	}
	return uint64(inode.SizeLo), nil
}

// ReadFile returns the named file's full contents.
func (f *FileSystem) ReadFile(pathname string) ([]byte, error) {
	_, inode, err := f.resolvePath(pathname)
	if err != nil {
		return nil, err
	}
	if inode.fileType() != inodeTypeFile {
		return nil, errNoSuchFile
	}
	return readInodeContents(f.b, f.partStart, f.sb, inode)
}

// Open implements filesystem.FileSystem's fs.File contract over a single
// regular file's contents, read fully into memory up front (there is no
// lazy block-by-block reader since boot-time files are small). Per
// io/fs.ValidPath, pathname must not start with "/"; use ReadFile for the
// drive-style "/<partition>/<path>" addressing instead.
func (f *FileSystem) Open(pathname string) (fs.File, error) {
	if strings.HasPrefix(pathname, "/") {
		return nil, fmt.Errorf("%q is not a valid fs.FS path: %w", pathname, errInvalidFormat)
	}
	_, inode, err := f.resolvePath(pathname)
	if err != nil {
		return nil, err
	}
	if inode.fileType() != inodeTypeFile {
		return nil, errNoSuchDir
	}
	contents, err := readInodeContents(f.b, f.partStart, f.sb, inode)
	if err != nil {
		return nil, err
	}
	base := pathname[strings.LastIndex(pathname, "/")+1:]
	return &openFile{
		info:   fileInfo{name: base, size: int64(len(contents)), dir: false},
		reader: bytes.NewReader(contents),
	}, nil
}

// ReadDir lists a directory's entries, filtering out "." and ".." so the
// result satisfies io/fs.ReadDirFS's contract (verified against
// filesystem/internal/testutil.TestFSTree). As with Open, pathname must not
// start with "/"; the root is spelled "." per io/fs convention, so
// ReadDir("/") is rejected rather than treated as the filesystem root.
func (f *FileSystem) ReadDir(pathname string) ([]fs.DirEntry, error) {
	if strings.HasPrefix(pathname, "/") {
		return nil, fmt.Errorf("%q is not a valid fs.FS path: %w", pathname, errInvalidFormat)
	}
	_, inode, err := f.resolvePath(pathname)
	if err != nil {
		return nil, err
	}
	if inode.fileType() != inodeTypeDirectory {
		return nil, errNoSuchDir
	}
	contents, err := readInodeContents(f.b, f.partStart, f.sb, inode)
	if err != nil {
		return nil, err
	}
	raw, err := readDirEntries(contents)
	if err != nil {
		return nil, err
	}
	var out []fs.DirEntry
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		isDir := e.FileType == inodeTypeDirectory
		out = append(out, dirEntryAdapter{fileInfo{name: e.Name, dir: isDir}})
	}
	return out, nil
}

// fileInfo is a minimal fs.FileInfo; ext4 inode timestamps aren't surfaced
// since nothing in the boot path inspects them.
type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0555
	}
	return 0444
}
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() interface{}   { return nil }

type dirEntryAdapter struct {
	fi fileInfo
}

func (d dirEntryAdapter) Name() string               { return d.fi.name }
func (d dirEntryAdapter) IsDir() bool                 { return d.fi.dir }
func (d dirEntryAdapter) Type() fs.FileMode           { return d.fi.Mode().Type() }
func (d dirEntryAdapter) Info() (fs.FileInfo, error)  { return d.fi, nil }

// openFile implements fs.File over an in-memory file's contents.
type openFile struct {
	info   fileInfo
	reader *bytes.Reader
}

func (o *openFile) Stat() (fs.FileInfo, error) { return o.info, nil }
func (o *openFile) Read(p []byte) (int, error) { return o.reader.Read(p) }
func (o *openFile) Close() error                { return nil }
