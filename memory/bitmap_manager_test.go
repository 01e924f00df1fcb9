package memory

import "testing"

func TestAllocSequentialNoOverlap(t *testing.T) {
	m := NewBitmapManager(1<<20, StackMeta{Location: 0x9000, Size: 0x1000})

	a, err := m.AllocSequential(0x3000)
	if err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	b, err := m.AllocSequential(0x2000)
	if err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct allocations, got %#x twice", a)
	}
	// the two allocations must not overlap
	aEnd := a + 0x3000
	if b < aEnd && b+0x2000 > a {
		t.Fatalf("allocations overlap: [%#x,%#x) and [%#x,%#x)", a, aEnd, b, b+0x2000)
	}
}

func TestAllocSequentialExhaustion(t *testing.T) {
	m := NewBitmapManager(4*PageSize, StackMeta{})
	if _, err := m.AllocSequential(4 * PageSize); err != nil {
		t.Fatalf("expected the whole pool to be allocatable: %v", err)
	}
	if _, err := m.AllocSequential(PageSize); err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

func TestMapIsMapped(t *testing.T) {
	m := NewBitmapManager(1<<20, StackMeta{})
	if m.IsMapped(0x1000, PageSize) {
		t.Fatalf("nothing should be mapped yet")
	}
	if err := m.Map(0x2000, 0x1000, PageSize); err != nil {
		t.Fatalf("map: %v", err)
	}
	if !m.IsMapped(0x1000, PageSize) {
		t.Fatalf("expected 0x1000 to be mapped after Map()")
	}
	if err := m.Unmap(0x1000, PageSize); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if m.IsMapped(0x1000, PageSize) {
		t.Fatalf("expected 0x1000 to be unmapped after Unmap()")
	}
}

func TestReserveRecordsMemoryMap(t *testing.T) {
	m := NewBitmapManager(1<<20, StackMeta{})
	before := len(m.MemoryMap().Entries)
	m.Reserve(0x10000, PageSize, TypeBootloader)
	after := m.MemoryMap().Entries
	if len(after) != before+1 {
		t.Fatalf("expected one new memory map entry, got %d -> %d", before, len(after))
	}
	last := after[len(after)-1]
	if last.Base != 0x10000 || last.Size != PageSize || last.Type != TypeBootloader {
		t.Fatalf("unexpected reserved entry: %+v", last)
	}
}
