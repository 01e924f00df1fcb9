package ext4

import (
	"fmt"
	"io"

	"github.com/sxboot/s1boot/status"
)

var (
	errInvalidFormat = status.StatusInvalidFormat
	errOutOfMemory   = status.StatusOutOfMemory
	errTooLarge      = status.StatusTooLarge
	errNoSuchFile    = fmt.Errorf("no such file: %w", status.StatusNotFound)
	errNoSuchDir     = fmt.Errorf("no such directory: %w", status.StatusNotFound)
)

// sectorReader is the read_sectors(drive, lba, count, buf) capability the
// spec treats as an external collaborator, expressed as io.ReaderAt over
// byte offsets (not sector numbers) for composability with backend.Storage.
type sectorReader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// readAtLBA reads len(buf) bytes starting at the given LBA (512-byte units).
func readAtLBA(b sectorReader, lba uint64, buf []byte) error {
	off := int64(lba) * sectorSize
	n, err := b.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return fmt.Errorf("reading LBA %d: %w", lba, status.StatusIoError)
	}
	return nil
}
