// Package pe wraps debug/pe to implement image.Image for PE kernel
// images, the counterpart to image/elf for kernels built with a
// Microsoft-ABI toolchain.
package pe

import (
	"bytes"
	"debug/pe"
	"fmt"

	"github.com/sxboot/s1boot/image"
)

// imageDllCharacteristicsDynamicBase is IMAGE_DLLCHARACTERISTICS_DYNAMIC_BASE,
// not exported by debug/pe.
const imageDllCharacteristicsDynamicBase = 0x0040

// Image is a parsed PE kernel image.
type Image struct {
	f           *pe.File
	imageBase   uint64
	entry       uint64
	relocatable bool
	segments    []image.Segment
}

// Open parses data as a PE file. Every section with a nonzero virtual size
// becomes a loadable segment,
// since PE has no separate program-header concept the way ELF does: the
// reference loader walks sections directly for the same reason.
func Open(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", image.ErrUnrecognizedFormat, err)
	}

	var imageBase, entry uint64
	var relocatable bool
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
		entry = imageBase + uint64(oh.AddressOfEntryPoint)
		relocatable = oh.DllCharacteristics&imageDllCharacteristicsDynamicBase != 0
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
		entry = imageBase + uint64(oh.AddressOfEntryPoint)
		relocatable = oh.DllCharacteristics&imageDllCharacteristicsDynamicBase != 0
	default:
		return nil, fmt.Errorf("%w: no optional header", image.ErrUnrecognizedFormat)
	}

	var segs []image.Segment
	for _, s := range f.Sections {
		if s.VirtualSize == 0 {
			continue
		}
		segs = append(segs, image.Segment{
			Vaddr:   imageBase + uint64(s.VirtualAddress),
			Memsz:   uint64(s.VirtualSize),
			Fileoff: uint64(s.Offset),
			Filesz:  uint64(s.Size),
		})
	}

	return &Image{
		f:           f,
		imageBase:   imageBase,
		entry:       entry,
		relocatable: relocatable,
		segments:    segs,
	}, nil
}

func (img *Image) Machine() image.Machine {
	switch img.f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return image.MachineAMD64
	case pe.IMAGE_FILE_MACHINE_I386:
		return image.MachineI386
	default:
		return image.MachineUnknown
	}
}

func (img *Image) Entry() uint64 {
	return img.entry
}

func (img *Image) Segments() []image.Segment {
	return img.segments
}

func (img *Image) Relocatable() bool {
	return img.relocatable
}

// SymbolOrSectionAddr looks for name as a section name only: PE kernels
// expose their ubi_header through a named section (.ubihdr), never a
// symbol, since PE images built for this purpose are typically stripped.
func (img *Image) SymbolOrSectionAddr(name string) (uint64, bool) {
	if sec := img.f.Section(name); sec != nil {
		return img.imageBase + uint64(sec.VirtualAddress), true
	}
	return 0, false
}

func (img *Image) FileOffsetForAddr(addr uint64) (uint64, bool) {
	for _, s := range img.segments {
		if addr >= s.Vaddr && addr < s.Vaddr+s.Filesz {
			return s.Fileoff + (addr - s.Vaddr), true
		}
	}
	return 0, false
}

// RelocAddend always reports false: PE carries no RELA-style addend table
// the loader needs to resolve a kernel-declared module path, unlike ELF.
func (img *Image) RelocAddend(addr uint64) (int64, bool) {
	return 0, false
}
