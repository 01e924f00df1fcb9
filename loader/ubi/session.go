package ubi

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sxboot/s1boot/bootdrive"
	"github.com/sxboot/s1boot/image"
	"github.com/sxboot/s1boot/memory"
	"github.com/sxboot/s1boot/status"
)

// state is the per-boot-attempt state machine of spec §4.5. Boot records
// it on the session as each phase completes; the phases themselves do not
// check it.
type state int

const (
	stateInit state = iota
	stateFileLoaded
	stateKernelBound
	stateTablesBuilt
	stateServicesExited
	stateSegmentsLoaded
	statePostInitDone
	stateRunning
)

// Drive is the subset of the out-of-scope filesystem/boot-device layer
// this loader needs: resolving a "/<partition>/<path>"-style name to
// bytes. Defined locally (rather than imported from bootcore) so this
// package has no dependency back on its own caller.
type Drive interface {
	ReadFile(path string) ([]byte, error)
	FileSize(path string) (uint64, error)
}

// VideoMode is the video state the firmware ultimately adopted, reported
// back by Firmware.Mode after SetVideoMode and filled into the B_VID table in
// post-init (ubi_post_init's stdio64_get_mode call).
type VideoMode struct {
	Graphics            bool
	Width, Height, Bpp  uint32
	Pitch               uint32
	FramebufferAddr     uint64
	CursorX, CursorY    uint32
}

// Firmware is the capability set this loader needs from the out-of-scope
// firmware/early-init layer (spec §1: "firmware-specific early init
// (BIOS/UEFI bring-up, exit-boot-services sequencing)"), modeled the same
// way memory.Manager stands in for the memory manager and Drive for the
// disk/filesystem layer: a narrow interface with no implementation shipped
// here beyond what tests need.
type Firmware interface {
	// UEFI reports whether the system booted via UEFI rather than BIOS.
	UEFI() bool
	// ExitBootServices releases firmware boot services. Called unless the
	// kernel asked to keep them (UBI_FLAGS_FIRMWARE_UEFI_EXIT).
	ExitBootServices() error
	// SMBIOSAddress, RSDPAddress, UEFISystemTable report firmware table
	// locations for B_SYS, ok=false if not present/applicable.
	SMBIOSAddress() (addr uint64, ok bool)
	RSDPAddress() (addr uint64, ok bool)
	UEFISystemTable() (addr uint64, ok bool)
	// SetVideoMode requests a text (graphics=false) or graphics mode.
	SetVideoMode(width, height, bpp uint32, graphics bool) error
	// Mode reports the currently adopted video mode, queried in post-init
	// after every SetVideoMode attempt has settled.
	Mode() VideoMode
	// ClearScreen clears the display; deferred to post-init per §4.4.3.
	ClearScreen()
	// DisableInterrupts disables hardware interrupts ahead of the kernel
	// call, per §4.4.1 step 7 / §5.
	DisableInterrupts()
	// UpdateScreen flushes any buffered video output.
	UpdateScreen()
	// BrandName identifies this bootloader build for B_LOADER.
	BrandName() string
	// BootDriveInfo describes the drive the kernel was booted from, for
	// B_BDRIVE. A real firmware layer resolves the boot partition and
	// builds this from drive.Set.BootDriveInfo (which itself calls
	// bootdrive.From); this package just encodes the result.
	BootDriveInfo() bootdrive.Info
}

// Blob is a chunk of handoff data the kernel will read by pointer: a boot
// table, a command-line copy, a loader name string, a module path, or the
// memory-map entry array. Addr is the address memory.Manager chose for it
// (see memory.Manager.AllocSequential); Bytes is its exact wire content.
// Actually copying Bytes to Addr in real memory is the caller's job -- the
// same boundary backend.Storage draws around raw sector I/O.
type Blob struct {
	Addr  uint64
	Bytes []byte
}

// Result is everything ubi.Boot produced: the finished, checksummed table
// chain plus the information needed to perform the actual kernel call
// (spec §4.4.8), which this package does not perform itself -- see
// KernelEntry.
type Result struct {
	RootAddr       uint64
	Tables         []Blob
	Aux            []Blob
	Entry          uint64
	Convention     CallConvention
	ServicesExited bool
}

// Input carries the UBI loader's config-entry options (spec §6) plus the
// firmware capability it needs to actually bring the kernel up. Firmware is
// the one genuinely required out-of-scope collaborator; Relocator (self-
// relocation, §4.4.6) and KernelEntry (the final indirect call, §4.4.8) are
// deferred to a real firmware-level caller the way linux86.Start defers its
// own Handoff, so they aren't threaded through here.
type Input struct {
	File         string
	Args         string
	Modules      string
	DisableKASLR bool
	Firmware     Firmware
}

// tableEntry is one constructed boot table awaiting final linking: its
// address is assigned at creation time (memory.Manager's addresses don't
// move when the bootloader relocates, see DESIGN.md), but its Next pointer
// and checksum aren't known until the whole chain exists.
type tableEntry struct {
	magic uint64
	addr  uint64
	body  []byte
}

// auxBlob is handoff data referenced by pointer from inside a table body
// (a string, a module entry array, the memory-map entry array) but not
// itself a table.
type auxBlob struct {
	addr  uint64
	bytes []byte
}

// session is the per-boot-attempt working state of the UBI loader,
// replacing the reference implementation's module-global ubi_root /
// ubi_kernel / lastTable / kernelPartition variables (Design Note §9) with
// fields on a value created fresh by Boot for every attempt.
type session struct {
	log   *logrus.Entry
	mem   memory.Manager
	drive Drive
	fw    Firmware
	reloc Relocator

	state state

	kernelPartition string // e.g. "/BDRIVE0"
	kernelPath      string // e.g. "/boot/kernel.elf"
	kernelFile      []byte
	kernelFileAddr  uint64
	img             image.Image
	isELF           bool

	kernelMinVA  uint64
	kernelMaxVA  uint64
	kernelOffset uint64
	kernelEntry  uint64

	kRootVA uint64

	disableKASLR bool
	clearScreen  bool
	videoTable   *tableEntry
	memmapTable  *tableEntry

	tables []*tableEntry
	aux    []auxBlob
}

// newTable allocates backing memory for a boot table, reserves it in the
// authoritative memory map, and appends it to the chain in creation order
// (mirroring lastTable->nextTable = ...; lastTable = ...).
func (s *session) newTable(magic uint64, body []byte) (*tableEntry, error) {
	size := uint64(tableHeaderSize + len(body))
	addr, err := s.mem.AllocSequential(size)
	if err != nil {
		return nil, fmt.Errorf("allocating table %#x: %w", magic, status.StatusOutOfMemory)
	}
	s.mem.Reserve(addr, size, memory.TypeBootloader)
	t := &tableEntry{magic: magic, addr: addr, body: body}
	s.tables = append(s.tables, t)
	return t, nil
}

// allocAux allocates handoff memory for data referenced by pointer from a
// table body (a string, a module/memmap entry array) but not itself a
// chain-linked table.
func (s *session) allocAux(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	addr, err := s.mem.AllocSequential(uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("allocating auxiliary data: %w", status.StatusOutOfMemory)
	}
	s.mem.Reserve(addr, uint64(len(data)), memory.TypeBootloader)
	s.aux = append(s.aux, auxBlob{addr: addr, bytes: data})
	return addr, nil
}

// allocAuxString allocates a NUL-terminated copy of str as an aux blob,
// returning its address.
func (s *session) allocAuxString(str string) (uint64, error) {
	return s.allocAux(append([]byte(str), 0))
}

// allocData places data at addr if nonzero and free (falling back to an
// allocator-chosen address otherwise, see allocVirtual), records it as typ
// in the authoritative memory map, and keeps it alive as an aux blob so
// Boot's caller can copy it into real memory by address.
func (s *session) allocData(data []byte, addr uint64, typ memory.Type) (uint64, error) {
	var err error
	if addr != 0 {
		addr, err = s.allocVirtual(addr, uint64(len(data)))
	} else {
		addr, err = s.mem.AllocSequential(uint64(len(data)))
	}
	if err != nil {
		return 0, err
	}
	s.mem.Reserve(addr, uint64(len(data)), typ)
	s.aux = append(s.aux, auxBlob{addr: addr, bytes: data})
	return addr, nil
}

// finalize links every constructed table into its final chain order,
// computes each checksum over its body, and serializes header+body into
// the wire bytes the kernel will read. Run once, after post-init has
// finished mutating any table bodies in place (B_MEMMAP, B_VID).
func (s *session) finalize() []Blob {
	blobs := make([]Blob, 0, len(s.tables))
	for i, t := range s.tables {
		var next uint64
		if i+1 < len(s.tables) {
			next = s.tables[i+1].addr
		}
		checksum := checksumFor(t.body)
		full := make([]byte, 0, tableHeaderSize+len(t.body))
		full = append(full, encodeTableHeader(t.magic, next, checksum)...)
		full = append(full, t.body...)
		blobs = append(blobs, Blob{Addr: t.addr, Bytes: full})
	}
	return blobs
}

func (s *session) auxBlobs() []Blob {
	blobs := make([]Blob, 0, len(s.aux))
	for _, a := range s.aux {
		blobs = append(blobs, Blob{Addr: a.addr, Bytes: a.bytes})
	}
	return blobs
}

// splitDrivePath splits a "/<partition>/<sub/path>" string into its
// leading "/<partition>" component and the filesystem-relative remainder
// (kept as its own leading-slash path), mirroring the pointer arithmetic
// in ubi_load_kernel (kernelPartition / kernelPath / rfile).
func splitDrivePath(p string) (partition, rest string) {
	if len(p) == 0 || p[0] != '/' {
		return "", p
	}
	idx := strings.Index(p[1:], "/")
	if idx < 0 {
		return p, ""
	}
	idx++ // translate back to an index into p
	return p[:idx], p[idx:]
}
