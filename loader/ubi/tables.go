// Package ubi implements the Universal Boot Interface loader: load an ELF
// or PE kernel at a relocatable virtual address, optionally with KASLR,
// build the linked chain of typed boot tables the kernel expects, and
// transfer control to it. Ported from original_source/boot/ubi/ubi.c and
// ubi.h; see SPEC_FULL.md §4.4 and DESIGN.md for the Go-specific
// restructuring (an explicit per-boot session instead of package globals,
// and table serialization deferred until after self-relocation).
package ubi

import "encoding/binary"

// Kernel-declared requirements table magics (K_*), read from the kernel
// image.
const (
	magicKRoot = 0x4083f3ec52494255
	magicKMem  = 0x008ab29d204d454d
	magicKVid  = 0x00c0a7ba44495656
	magicKMod  = 0x00ebc9e653444f4d
)

// Boot table magics (B_*), written into the handoff chain for the kernel.
const (
	magicBRoot   = 0xc0d316dc42494255
	magicBMem    = 0x80feb99d204d454d
	magicBVid    = 0x800c881e44495656
	magicBMod    = 0x808eb4ad53444f4d
	magicBSys    = 0x801ad6e75f535953
	magicBMemmap = 0x80f604c750414d4d
	magicBLoader = 0x8083ae8620424c42
	magicBCmd    = 0x80a4f8a34c444d43
	magicBBdrive = 0x80c8cda856524442
)

// Firmware flags (ubi_b_root_table.flags, UBI_FLAGS_FIRMWARE_*).
const (
	flagsFirmwareBIOS     = 0
	flagsFirmwareUEFI     = 1
	flagsFirmwareUEFIExit = 0x4
)

// Memory flags (UBI_FLAGS_MEMORY_*).
const (
	flagsMemoryKASLR = 0x1
)

// Video flags (UBI_FLAGS_VIDEO_*) and mode mask.
const (
	flagsVideoText        = 0x1
	flagsVideoGraphics    = 0x2
	flagsVideoClearScreen = 0x4
	maskVideoMode         = 0x3
)

const specVersionMajor = 1
const specVersionMinor = 0

// tableHeaderSize is sizeof(ubi_b_table_header): magic(8) + next(8) +
// checksum(4), packed.
const tableHeaderSize = 20

// kTableHeaderSize is sizeof(ubi_table_header): magic(8) + next(8).
const kTableHeaderSize = 16

// encodeTableHeader writes a B-table header: magic, the next table's
// address (0 if this is the last table), and checksum.
func encodeTableHeader(magic, next uint64, checksum uint32) []byte {
	b := make([]byte, tableHeaderSize)
	binary.LittleEndian.PutUint64(b[0:8], magic)
	binary.LittleEndian.PutUint64(b[8:16], next)
	binary.LittleEndian.PutUint32(b[16:20], checksum)
	return b
}

// checksumFor computes (2^32 - sum(body)) mod 2^32 so that the sum of
// every byte from the end of the header through the end of the table,
// plus the checksum itself, is zero modulo 2^32, per spec §3/§4.4.7 and
// ubi_set_checksum.
func checksumFor(body []byte) uint32 {
	var sum uint32
	for _, b := range body {
		sum += uint32(b)
	}
	return uint32(0x100000000 - uint64(sum))
}
