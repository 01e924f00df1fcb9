package ubi

import "encoding/binary"

// buildMemmapTable creates an empty B_MEMMAP table; its entries are filled
// in post-init once every other allocation has happened, mirroring
// ubi_create_memmap_table's "initialization is done in ubi_post_init".
func (s *session) buildMemmapTable() error {
	body := make([]byte, 16)
	t, err := s.newTable(magicBMemmap, body)
	if err != nil {
		return err
	}
	s.memmapTable = t
	return nil
}

// postInitMemmap snapshots the authoritative memory map one last time and
// writes it into the B_MEMMAP table, ported from ubi_recreate_memmap.
// memory.Type's numeric values already match the UBI_MEMTYPE_* constants
// (see DESIGN.md), so no conversion table is needed here the way the
// reference implementation's ubi_convert_to_ubi_memtype needs one.
func (s *session) postInitMemmap() error {
	regions := s.mem.MemoryMap().Entries
	array := make([]byte, len(regions)*24)
	for i, r := range regions {
		off := i * 24
		binary.LittleEndian.PutUint64(array[off:off+8], r.Base)
		binary.LittleEndian.PutUint64(array[off+8:off+16], r.Size)
		binary.LittleEndian.PutUint32(array[off+16:off+20], uint32(r.Type))
		binary.LittleEndian.PutUint32(array[off+20:off+24], 0)
	}
	arrayAddr, err := s.allocAux(array)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s.memmapTable.body[4:8], uint32(len(regions)))
	binary.LittleEndian.PutUint64(s.memmapTable.body[8:16], arrayAddr)
	return nil
}
