package ubi

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/sxboot/s1boot/memory"
	"github.com/sxboot/s1boot/status"
)

// buildMemTable constructs the B_MEM table from the kernel's optional
// K_MEM declaration, ported from ubi_create_mem_table. k is the nil
// kMemTable zero value when the kernel declared no K_MEM table, matching
// the reference's `if(table)` branch.
func (s *session) buildMemTable(k *kMemTable) error {
	body := make([]byte, kMemTableBodySize-8) // B_MEM has no kaslrSize field
	var flags uint32
	var heapSize, heapLocation, stackLocation, idMapLocation, stackSize, idMapSize uint64

	if k != nil {
		if k.HeapSize > 0 {
			loc := k.HeapLocation
			var err error
			if loc == 0 {
				loc, err = s.mem.AllocSequential(k.HeapSize)
			} else {
				loc, err = s.allocVirtual(loc, k.HeapSize)
			}
			if err != nil || loc == 0 {
				return fmt.Errorf("allocating heap: %w", status.StatusOutOfMemory)
			}
			s.mem.Reserve(loc, k.HeapSize, memory.TypeBootloader)
			heapLocation = loc
			heapSize = k.HeapSize
		}

		stackSize = k.StackSize
		if stackSize == 0 {
			stackSize = s.mem.StackMeta().Size
		}
		var err error
		if k.StackLocation == 0 {
			stackLocation, err = s.mem.AllocSequential(stackSize)
		} else {
			stackLocation, err = s.allocVirtual(k.StackLocation-stackSize, stackSize)
		}
		if err != nil || (stackLocation == 0 && stackSize != 0) {
			return fmt.Errorf("allocating stack: %w", status.StatusOutOfMemory)
		}
		stackLocation += stackSize
		s.mem.Reserve(stackLocation-stackSize, stackSize, memory.TypeBootloader)
		if err := s.mem.MoveStack(stackLocation-stackSize, stackSize); err != nil {
			return fmt.Errorf("moving stack: %w", err)
		}

		if k.IDMapSize > 0 {
			mapSize := k.IDMapSize &^ 0xfff
			if err := s.mem.Map(0, k.IDMapLocation, mapSize); err != nil {
				return fmt.Errorf("identity-mapping %#x: %w", k.IDMapLocation, err)
			}
			idMapLocation = k.IDMapLocation
			idMapSize = k.IDMapSize
		}

		elfDyn := s.isELF && s.img.Relocatable()
		if (k.Flags&flagsMemoryKASLR) != 0 && s.isELF && elfDyn && !s.disableKASLR {
			kernelSize := s.kernelMaxVA - s.kernelMinVA
			if kernelSize > k.KaslrSize {
				return fmt.Errorf("kernel image (%d bytes) is larger than the kernel's kaslrSize: %w", kernelSize, status.StatusGeneric)
			}
			if k.KernelBase+kernelSize < k.KernelBase {
				return fmt.Errorf("kaslrSize overflows kernelBase: %w", status.StatusGeneric)
			}
			offset, err := randomKernelOffset(k.KernelBase, k.KaslrSize, kernelSize)
			if err != nil {
				return fmt.Errorf("choosing a randomized load address: %w", err)
			}
			s.kernelOffset = offset
			flags |= flagsMemoryKASLR
		} else if elfDyn {
			s.kernelOffset = k.KernelBase
		}
	} else {
		stackLocation = s.mem.StackMeta().Location
		stackSize = s.mem.StackMeta().Size
	}

	binary.LittleEndian.PutUint32(body[0:4], flags)
	binary.LittleEndian.PutUint64(body[4:12], heapLocation)
	binary.LittleEndian.PutUint64(body[12:20], heapSize)
	binary.LittleEndian.PutUint64(body[20:28], stackLocation)
	binary.LittleEndian.PutUint64(body[28:36], stackSize)
	binary.LittleEndian.PutUint64(body[36:44], idMapLocation)
	binary.LittleEndian.PutUint64(body[44:52], idMapSize)
	binary.LittleEndian.PutUint64(body[52:60], s.kernelMinVA+s.kernelOffset)

	if _, err := s.newTable(magicBMem, body); err != nil {
		return err
	}
	return nil
}

// allocVirtual tries to back a kernel-requested virtual address with fresh
// physical memory, falling back to an address of the allocator's choosing
// if the requested range is already in use -- mirroring ubi_alloc_virtual.
func (s *session) allocVirtual(addr, size uint64) (uint64, error) {
	if addr != 0 && !s.mem.IsMapped(addr, size) {
		phys, err := s.mem.AllocSequential(size)
		if err != nil {
			return 0, err
		}
		if err := s.mem.Map(phys, addr, size); err != nil {
			return 0, err
		}
		return addr, nil
	}
	return s.mem.AllocSequential(size)
}

// randomKernelOffset picks a page-aligned load address inside
// [kernelBase, kernelBase+kaslrSize-kernelSize], mirroring
// ubi_get_random_kernel_offset. crypto/rand is used rather than math/rand
// because the load address is the one thing standing between an attacker
// and a known kernel layout.
func randomKernelOffset(kernelBase, kaslrSize, kernelSize uint64) (uint64, error) {
	span := kaslrSize - kernelSize
	if span == 0 {
		return kernelBase, nil
	}
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(span))
	if err != nil {
		return 0, err
	}
	offset := n.Uint64()
	offset &^= 0xfff // page-align
	return kernelBase + offset, nil
}
