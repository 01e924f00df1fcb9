package ubi

import (
	"encoding/binary"
	"testing"

	"github.com/sxboot/s1boot/memory"
)

func TestPostInitMemmapWritesCurrentMap(t *testing.T) {
	s := newTestSession(t)
	if err := s.buildMemmapTable(); err != nil {
		t.Fatalf("buildMemmapTable: %v", err)
	}
	s.mem.Reserve(0x1000, 0x2000, memory.TypeBootloader)

	before := len(s.mem.MemoryMap().Entries)
	if err := s.postInitMemmap(); err != nil {
		t.Fatalf("postInitMemmap: %v", err)
	}

	length := binary.LittleEndian.Uint32(s.memmapTable.body[4:8])
	if int(length) != before {
		t.Fatalf("expected B_MEMMAP length %d to match the memory map's %d entries", length, before)
	}
	arrayAddr := binary.LittleEndian.Uint64(s.memmapTable.body[8:16])
	if arrayAddr == 0 {
		t.Fatalf("expected a nonzero array address")
	}

	var arrayBlob []byte
	for _, a := range s.aux {
		if a.addr == arrayAddr {
			arrayBlob = a.bytes
		}
	}
	if arrayBlob == nil {
		t.Fatalf("expected the memmap array to be recorded as an aux blob")
	}
	if len(arrayBlob) != before*24 {
		t.Fatalf("expected a %d-byte array, got %d", before*24, len(arrayBlob))
	}
}
