package memory

import (
	"fmt"

	"github.com/sxboot/s1boot/util/bitmap"
)

// BitmapManager is a reference Manager implementation backing physical-page
// bookkeeping with a bitmap.Bitmap, the same structure the teacher uses to
// track free ext4 blocks. It has no notion of real page tables: Map/Unmap
// only record which virtual pages are considered accessible, which is
// sufficient for exercising the loaders in tests without a real MMU driver.
type BitmapManager struct {
	pageSize   uint64
	totalPages int
	bits       *bitmap.Bitmap
	mapped     map[uint64]uint64 // virt page -> phys page, both page-numbers
	stack      StackMeta
	mmap       MemoryMap
}

// NewBitmapManager creates a Manager over a flat range of `totalBytes` of
// usable physical memory starting at physical address 0, with an initial
// stack region the caller already occupies.
func NewBitmapManager(totalBytes uint64, initialStack StackMeta) *BitmapManager {
	pages := int(totalBytes / PageSize)
	return &BitmapManager{
		pageSize:   PageSize,
		totalPages: pages,
		bits:       bitmap.NewBits(pages),
		mapped:     make(map[uint64]uint64),
		stack:      initialStack,
		mmap:       MemoryMap{Entries: []Region{{Base: 0, Size: totalBytes, Type: TypeUsable}}},
	}
}

func (b *BitmapManager) pageOf(addr uint64) uint64 { return addr / b.pageSize }

func (b *BitmapManager) IsMapped(addr, size uint64) bool {
	start := b.pageOf(addr)
	end := b.pageOf(addr + size + b.pageSize - 1)
	for p := start; p < end; p++ {
		if _, ok := b.mapped[p]; ok {
			return true
		}
	}
	return false
}

func (b *BitmapManager) Map(phys, virt, size uint64) error {
	pages := (size + b.pageSize - 1) / b.pageSize
	physPage := b.pageOf(phys)
	virtPage := b.pageOf(virt)
	for i := uint64(0); i < pages; i++ {
		b.mapped[virtPage+i] = physPage + i
	}
	return nil
}

func (b *BitmapManager) Unmap(virt, size uint64) error {
	pages := (size + b.pageSize - 1) / b.pageSize
	virtPage := b.pageOf(virt)
	for i := uint64(0); i < pages; i++ {
		delete(b.mapped, virtPage+i)
	}
	return nil
}

func (b *BitmapManager) AllocSequential(size uint64) (uint64, error) {
	pages := int((size + b.pageSize - 1) / b.pageSize)
	if pages == 0 {
		pages = 1
	}
	start := -1
	run := 0
	for p := 0; p < b.totalPages; p++ {
		set, err := b.bits.IsSet(p)
		if err != nil {
			return 0, fmt.Errorf("bitmap scan at page %d: %w", p, err)
		}
		if set {
			start, run = -1, 0
			continue
		}
		if start == -1 {
			start = p
		}
		run++
		if run == pages {
			for i := start; i < start+pages; i++ {
				if err := b.bits.Set(i); err != nil {
					return 0, fmt.Errorf("marking page %d used: %w", i, err)
				}
			}
			return uint64(start) * b.pageSize, nil
		}
	}
	return 0, fmt.Errorf("no contiguous run of %d pages available", pages)
}

func (b *BitmapManager) Reserve(base, size uint64, typ Type) {
	b.mmap.Reserve(base, size, typ)
}

func (b *BitmapManager) UsableMemory() uint64 {
	return uint64(b.totalPages) * b.pageSize
}

func (b *BitmapManager) StackMeta() StackMeta {
	return b.stack
}

func (b *BitmapManager) MoveStack(base, size uint64) error {
	b.stack = StackMeta{Location: base, Size: size}
	return nil
}

func (b *BitmapManager) MemoryMap() MemoryMap {
	return b.mmap
}
