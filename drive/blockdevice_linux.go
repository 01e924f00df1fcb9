//go:build linux
// +build linux

package drive

import (
	"fmt"

	"github.com/sxboot/s1boot/backend"
	"github.com/sxboot/s1boot/bootdrive"
)

// MountBlockDevice opens devicePath (e.g. "/dev/sda1") directly as a Linux
// block device via backend.OpenBlockDevice and mounts the ext2/3/4
// filesystem found on it under label. Geometry queried from the kernel
// (not trusted from the device node's Stat) sizes the WholeDisk partition
// handed to Mount, so a device opened this way is always addressed as
// occupying its own entire extent -- partition-table-aware callers should
// build their own part.Partition and call Mount directly instead.
func MountBlockDevice(s *Set, label, devicePath string, driveType string, driveIndex uint32) error {
	storage, geom, err := backend.OpenBlockDevice(devicePath)
	if err != nil {
		return fmt.Errorf("opening block device %s: %w", devicePath, err)
	}
	return s.Mount(label, storage, WholeDisk{Size: int64(geom.TotalSize)}, bootdrive.FormatUnknown, driveType, driveIndex)
}
