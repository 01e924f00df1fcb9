package ext4

import (
	"bytes"
	"testing"

	"github.com/sxboot/s1boot/filesystem/internal/testutil"
)

// TestFSTreeConformance exercises the same io/fs.ReadDirFS contract the
// teacher's iso9660/squashfs readers are checked against: ReadDir(".")
// walks the tree, ReadDir("/") must see nothing (the root is spelled "."),
// and no directory entry is named "." or "..".
func TestFSTreeConformance(t *testing.T) {
	img := buildDirectImage(t, 100)
	fs, err := Read(bytes.NewReader(img), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	testutil.TestFSTree(t, fs)
}
