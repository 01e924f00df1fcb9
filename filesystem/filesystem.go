// Package filesystem provides the read-only interfaces implementations
// present to the boot core. The only implementation in this module is
// filesystem/ext4; the interface stays separate so the core never depends
// on ext4 directly. It is shaped to match io/fs.ReadDirFS exactly, so any
// FileSystem value is already usable with io/fs tooling without an adapter.
package filesystem

import (
	"errors"
	"io/fs"
)

var (
	ErrNotSupported   = errors.New("method not supported by this filesystem")
	ErrNotImplemented = errors.New("method not implemented (patches are welcome)")
)

// FileSystem is a reference to a single read-only filesystem on a drive.
// Mutating operations (Mkdir, Mknod, Link, Symlink, Chmod, Chown, Rename,
// Remove, SetLabel) are dropped: the core never writes to a filesystem.
type FileSystem interface {
	// Type returns the type of filesystem.
	Type() Type
	// ReadDir reads the contents of a directory.
	ReadDir(pathname string) ([]fs.DirEntry, error)
	// Open opens a handle to read a file.
	Open(pathname string) (fs.File, error)
	// Label returns the label for the filesystem, or "" if none. It is
	// passed as-is and not cleaned up at all.
	Label() string
}

// Type represents the type of filesystem this is.
type Type int

const (
	// TypeExt4 is an ext2/3/4 compatible filesystem.
	TypeExt4 Type = iota
)

func (t Type) String() string {
	switch t {
	case TypeExt4:
		return "ext4"
	default:
		return "unknown"
	}
}
