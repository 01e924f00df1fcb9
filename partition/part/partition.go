// Package part describes a located partition on a drive: its table index,
// byte extent, and identifying metadata. There is no read or write
// surface here -- once a caller has the extent it needs, it reads the
// partition's bytes through backend.Storage (or backend.Sub over one)
// directly, the same way bootdrive.From only ever needs the index and UUID.
package part

// Partition is a reference to an individual partition on disk, located but
// not yet opened.
type Partition interface {
	GetIndex() int // Index of the partition in the table, starting at 1
	GetSize() int64
	GetStart() int64
	UUID() string
	Label() string
}
