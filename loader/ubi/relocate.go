package ubi

import (
	"fmt"

	"github.com/sxboot/s1boot/status"
)

// preferredRelocBase is the address the reference implementation prefers
// to relocate the bootloader to on amd64: high enough up to be clear of
// almost any kernel's chosen load address.
const preferredRelocBase = 0xffffffff00000000

// selfRelocate moves the bootloader itself out of the way if its preferred
// base would overlap [kernelMinAddr, kernelMaxAddr), ported from
// ubi_relocate. A nil Relocator (the only wiring this module currently
// has) makes this a no-op.
func (s *session) selfRelocate(kernelMinAddr, kernelMaxAddr uint64) error {
	if s.reloc == nil {
		return nil
	}
	addr := uint64(preferredRelocBase)
	usable := s.mem.UsableMemory()

	overlaps := (addr >= kernelMinAddr && addr <= kernelMaxAddr) ||
		(addr+usable >= kernelMinAddr && addr+usable <= kernelMaxAddr) ||
		(kernelMinAddr >= addr && kernelMinAddr <= addr+usable) ||
		(kernelMaxAddr >= addr && kernelMaxAddr <= addr+usable)
	if overlaps {
		switch {
		case ^uint64(0)-kernelMaxAddr >= usable:
			addr = kernelMaxAddr
		case kernelMinAddr > usable:
			addr = kernelMinAddr - usable
		default:
			return fmt.Errorf("no suitable location to relocate the loader to: %w", status.StatusUnavailable)
		}
	}

	s.log.Debugf("relocating loader to %#x", addr)
	return s.reloc.Relocate(addr)
}
