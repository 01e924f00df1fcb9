package ubi

import (
	"encoding/binary"
	"fmt"

	"github.com/sxboot/s1boot/image"
	"github.com/sxboot/s1boot/status"
)

// readBytesAt copies n bytes from img's file image at virtual address
// vaddr, failing if vaddr doesn't fall inside any loadable region.
func readBytesAt(img image.Image, file []byte, vaddr uint64, n int) ([]byte, error) {
	off, ok := img.FileOffsetForAddr(vaddr)
	if !ok {
		return nil, fmt.Errorf("address %#x is outside the image's loadable regions: %w", vaddr, status.StatusInvalidFormat)
	}
	if off+uint64(n) > uint64(len(file)) {
		return nil, fmt.Errorf("address %#x (len %d) overruns the image file: %w", vaddr, n, status.StatusInvalidFormat)
	}
	return file[off : off+uint64(n)], nil
}

// kTableHeader is the decoded form of ubi_table_header at some VA.
type kTableHeader struct {
	Magic uint64
	Next  uint64
}

// readKTableHeader decodes the 16-byte kernel table header at vaddr. If
// the raw Next pointer is zero and the image is a relocatable ELF, the
// real address is recovered from the .rela.dyn addend targeting this
// field -- PIE kernels can't embed a compile-time address-of another
// struct without a dynamic relocation, mirroring
// ubi_get_kernel_table's fallback.
func readKTableHeader(img image.Image, file []byte, vaddr uint64) (kTableHeader, error) {
	raw, err := readBytesAt(img, file, vaddr, kTableHeaderSize)
	if err != nil {
		return kTableHeader{}, err
	}
	hdr := kTableHeader{
		Magic: binary.LittleEndian.Uint64(raw[0:8]),
		Next:  binary.LittleEndian.Uint64(raw[8:16]),
	}
	if hdr.Next == 0 {
		if addend, ok := img.RelocAddend(vaddr + 8); ok && addend != 0 {
			hdr.Next = uint64(addend)
		}
	}
	return hdr, nil
}

// findKernelTable walks the kernel's declared-requirements chain starting
// at rootVA looking for magic, mirroring ubi_get_kernel_table. Returns
// ok=false, no error, if the chain terminates without a match: most
// kernel tables are optional (spec §4.4.1 step 4).
func findKernelTable(img image.Image, file []byte, rootVA uint64, magic uint64) (vaddr uint64, ok bool, err error) {
	cur := rootVA
	for cur != 0 {
		hdr, err := readKTableHeader(img, file, cur)
		if err != nil {
			return 0, false, err
		}
		if hdr.Magic == magic {
			return cur, true, nil
		}
		cur = hdr.Next
	}
	return 0, false, nil
}

// readCString reads a NUL-terminated string at vaddr from the image file,
// resolving addr==0 the same way readKTableHeader resolves a zero Next:
// callers pass the field's own VA via resolvePointerField when the raw
// stored value is zero.
func readCString(img image.Image, file []byte, vaddr uint64) (string, error) {
	off, ok := img.FileOffsetForAddr(vaddr)
	if !ok {
		return "", fmt.Errorf("string address %#x is outside the image: %w", vaddr, status.StatusInvalidFormat)
	}
	end := off
	for end < uint64(len(file)) && file[end] != 0 {
		end++
	}
	if end >= uint64(len(file)) {
		return "", fmt.Errorf("unterminated string at %#x: %w", vaddr, status.StatusInvalidFormat)
	}
	return string(file[off:end]), nil
}

// resolvePointerField returns raw unless raw is zero and the image is a
// relocatable ELF, in which case it looks up the .rela.dyn addend
// targeting fieldVA (the field's own virtual address) -- the same
// resolution readKTableHeader applies to Next, generalized to the one
// other place the reference loader needs it: a module's path pointer
// (ubi_create_module_table's akpath lookup).
func resolvePointerField(img image.Image, fieldVA, raw uint64) uint64 {
	if raw != 0 {
		return raw
	}
	if addend, ok := img.RelocAddend(fieldVA); ok {
		return uint64(addend)
	}
	return 0
}

// kRootTable is the decoded ubi_k_root_table body (after the header).
type kRootTable struct {
	MinVerMajor uint8
	MinVerMinor uint8
	Bits        uint16
	Flags       uint32
}

func readKRootTable(img image.Image, file []byte, vaddr uint64) (kRootTable, error) {
	raw, err := readBytesAt(img, file, vaddr, kTableHeaderSize+8)
	if err != nil {
		return kRootTable{}, err
	}
	body := raw[kTableHeaderSize:]
	return kRootTable{
		MinVerMajor: body[0],
		MinVerMinor: body[1],
		Bits:        binary.LittleEndian.Uint16(body[2:4]),
		Flags:       binary.LittleEndian.Uint32(body[4:8]),
	}, nil
}

// kMemTable is the decoded ubi_k_mem_table body.
type kMemTable struct {
	Flags         uint32
	HeapLocation  uint64
	HeapSize      uint64
	StackLocation uint64
	StackSize     uint64
	IDMapLocation uint64
	IDMapSize     uint64
	KernelBase    uint64
	KaslrSize     uint64
}

const kMemTableBodySize = 4 + 8*7

func readKMemTable(img image.Image, file []byte, vaddr uint64) (kMemTable, error) {
	raw, err := readBytesAt(img, file, vaddr, kTableHeaderSize+kMemTableBodySize)
	if err != nil {
		return kMemTable{}, err
	}
	b := raw[kTableHeaderSize:]
	return kMemTable{
		Flags:         binary.LittleEndian.Uint32(b[0:4]),
		HeapLocation:  binary.LittleEndian.Uint64(b[4:12]),
		HeapSize:      binary.LittleEndian.Uint64(b[12:20]),
		StackLocation: binary.LittleEndian.Uint64(b[20:28]),
		StackSize:     binary.LittleEndian.Uint64(b[28:36]),
		IDMapLocation: binary.LittleEndian.Uint64(b[36:44]),
		IDMapSize:     binary.LittleEndian.Uint64(b[44:52]),
		KernelBase:    binary.LittleEndian.Uint64(b[52:60]),
		KaslrSize:     binary.LittleEndian.Uint64(b[60:68]),
	}, nil
}

// kVideoTable is the decoded ubi_k_video_table body.
type kVideoTable struct {
	Flags  uint32
	Width  uint32
	Height uint32
	Bpp    uint32
}

const kVideoTableBodySize = 16

func readKVideoTable(img image.Image, file []byte, vaddr uint64) (kVideoTable, error) {
	raw, err := readBytesAt(img, file, vaddr, kTableHeaderSize+kVideoTableBodySize)
	if err != nil {
		return kVideoTable{}, err
	}
	b := raw[kTableHeaderSize:]
	return kVideoTable{
		Flags:  binary.LittleEndian.Uint32(b[0:4]),
		Width:  binary.LittleEndian.Uint32(b[4:8]),
		Height: binary.LittleEndian.Uint32(b[8:12]),
		Bpp:    binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// kModuleEntry is one {path, loadAddress} pair of a kModuleTable.
type kModuleEntry struct {
	Path        uint64 // virtual address of a NUL-terminated string
	LoadAddress uint64 // 0 means "anywhere"
}

const kModuleEntrySize = 16

// kModuleTable is the decoded ubi_k_module_table header plus its
// variable-length modules array.
type kModuleTable struct {
	Flags   uint32
	Length  uint32
	Entries []kModuleEntry
}

func readKModuleTable(img image.Image, file []byte, vaddr uint64) (kModuleTable, error) {
	raw, err := readBytesAt(img, file, vaddr, kTableHeaderSize+8)
	if err != nil {
		return kModuleTable{}, err
	}
	b := raw[kTableHeaderSize:]
	length := binary.LittleEndian.Uint32(b[4:8])
	table := kModuleTable{
		Flags:  binary.LittleEndian.Uint32(b[0:4]),
		Length: length,
	}
	arrayVA := vaddr + kTableHeaderSize + 8
	for i := uint32(0); i < length; i++ {
		entryVA := arrayVA + uint64(i)*kModuleEntrySize
		raw, err := readBytesAt(img, file, entryVA, kModuleEntrySize)
		if err != nil {
			return kModuleTable{}, fmt.Errorf("reading module entry %d: %w", i, err)
		}
		pathRaw := binary.LittleEndian.Uint64(raw[0:8])
		loadAddr := binary.LittleEndian.Uint64(raw[8:16])
		path := pathRaw
		if path == 0 {
			path = resolvePointerField(img, entryVA, 0)
		}
		table.Entries = append(table.Entries, kModuleEntry{Path: path, LoadAddress: loadAddr})
	}
	return table, nil
}
