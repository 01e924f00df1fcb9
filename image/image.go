// Package image locates and loads the pieces of a kernel image the UBI
// loader needs: its load segments, an in-image symbol or section by name,
// and (for position-independent images) relocation addends. Two formats
// are supported, ELF and PE, behind the same interface; each lives in its
// own subpackage (image/elf, image/pe) since the two on-disk formats share
// almost no code.
package image

import "fmt"

// Machine identifies the CPU architecture a kernel image targets, read out
// of the image's own header rather than assumed.
type Machine int

const (
	MachineUnknown Machine = iota
	MachineI386
	MachineAMD64
)

// Segment is one loadable region of an image: load it at Vaddr, copy
// Filesz bytes from the image at Fileoff, then zero-fill up to Memsz.
type Segment struct {
	Vaddr   uint64
	Memsz   uint64
	Fileoff uint64
	Filesz  uint64
}

// Image is the capability set the UBI loader needs from a kernel file,
// regardless of whether it's ELF or PE underneath. Implementations are
// image/elf.Image and image/pe.Image.
type Image interface {
	// Machine reports the target architecture from the image header.
	Machine() Machine
	// Entry returns the image's entry point virtual address.
	Entry() uint64
	// Segments returns every loadable segment, in file order.
	Segments() []Segment
	// Relocatable reports whether the image is position-independent
	// (ELF ET_DYN, or a PE with the relocatable characteristic) and
	// therefore eligible for KASLR rebasing.
	Relocatable() bool
	// SymbolOrSectionAddr resolves name first as a symbol, then as a
	// section name, returning its virtual address. This is how the
	// loader finds the ubi_header without needing a fixed offset.
	SymbolOrSectionAddr(name string) (uint64, bool)
	// FileOffsetForAddr reverse-maps a virtual address to a byte offset
	// in the image file, by finding the segment containing it. This
	// mirrors ubi_get_file_addr.
	FileOffsetForAddr(addr uint64) (uint64, bool)
	// RelocAddend looks up the addend of a RELA-style relocation whose
	// offset field equals addr. ELF images search .rela.dyn; PE images
	// always report false since PE has no equivalent addend table the
	// loader needs (its relocations are applied by the loader itself).
	RelocAddend(addr uint64) (int64, bool)
}

// ErrUnrecognizedFormat is returned by Open functions when the file is
// neither a supported ELF nor a supported PE image.
var ErrUnrecognizedFormat = fmt.Errorf("file is neither a recognized ELF nor PE image")
