package ubi

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sxboot/s1boot/memory"
	"github.com/sxboot/s1boot/status"
)

// moduleRecord is one entry of the B_MOD modules array, with its fields
// already resolved to addresses in the handoff memory map.
type moduleRecord struct {
	Path        uint64
	LoadAddress uint64
	Size        uint64
}

// buildModuleTable constructs the B_MOD table from three sources, in the
// same order as ubi_create_module_table: the kernel image itself (always
// module 0), the kernel's optional K_MOD declaration, and the config
// entry's colon-separated "modules" option.
func (s *session) buildModuleTable(k *kModuleTable, configModules string) error {
	var records []moduleRecord

	pathAddr, err := s.allocAuxString(s.kernelPath)
	if err != nil {
		return fmt.Errorf("recording kernel module entry: %w", err)
	}
	records = append(records, moduleRecord{Path: pathAddr, LoadAddress: s.kernelFileAddr, Size: uint64(len(s.kernelFile))})

	if k != nil {
		for i, e := range k.Entries {
			path, err := readCString(s.img, s.kernelFile, e.Path)
			if err != nil {
				return fmt.Errorf("reading path of kernel-declared module %d: %w", i, err)
			}
			rec, err := s.loadModule(path, e.LoadAddress)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
	}

	for _, path := range strings.Split(configModules, ":") {
		if path == "" {
			continue
		}
		rec, err := s.loadModule(path, 0)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	const bModuleEntrySize = 24 // path(8) + loadAddress(8) + size(8)
	array := make([]byte, len(records)*bModuleEntrySize)
	for i, r := range records {
		off := i * bModuleEntrySize
		binary.LittleEndian.PutUint64(array[off:off+8], r.Path)
		binary.LittleEndian.PutUint64(array[off+8:off+16], r.LoadAddress)
		binary.LittleEndian.PutUint64(array[off+16:off+24], r.Size)
	}
	arrayAddr, err := s.allocAux(array)
	if err != nil {
		return fmt.Errorf("allocating module array: %w", err)
	}

	body := make([]byte, 16)
	binary.LittleEndian.PutUint32(body[0:4], 0)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(records)))
	binary.LittleEndian.PutUint64(body[8:16], arrayAddr)

	if _, err := s.newTable(magicBMod, body); err != nil {
		return err
	}
	return nil
}

// loadModule reads a module file relative to the booted partition, places
// its bytes in memory (at loadAddress if the kernel pinned one, otherwise
// wherever the allocator chooses), and returns its handoff record. Ported
// from ubi_load_module.
func (s *session) loadModule(path string, loadAddress uint64) (moduleRecord, error) {
	readPath := s.kernelPartition + path
	s.log.Infof("loading module %s", readPath)
	data, err := s.drive.ReadFile(readPath)
	if err != nil {
		return moduleRecord{}, fmt.Errorf("reading module %s: %w", readPath, status.StatusNotFound)
	}
	addr, err := s.allocData(data, loadAddress, memory.TypeOS)
	if err != nil {
		return moduleRecord{}, fmt.Errorf("loading module %s: %w", readPath, status.StatusOutOfMemory)
	}
	pathAddr, err := s.allocAuxString(path)
	if err != nil {
		return moduleRecord{}, fmt.Errorf("recording module path %s: %w", path, err)
	}
	return moduleRecord{Path: pathAddr, LoadAddress: addr, Size: uint64(len(data))}, nil
}
