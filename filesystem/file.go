package filesystem

import (
	"io"
	"io/fs"
)

// File is a reference to a single file opened read-only.
type File interface {
	fs.ReadDirFile
	io.Seeker
	io.ReaderAt
}
