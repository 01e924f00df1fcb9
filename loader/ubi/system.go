package ubi

import "encoding/binary"

// buildSystemTable constructs the B_SYS table from whatever firmware
// discovery tables are available, ported from ubi_create_system_table.
// SMBIOS entry-point version detection (the reference scans for the
// "_SM3_"/"_SM_" anchor strings to set flags) is the firmware's job here:
// Firmware.SMBIOSAddress reports only presence, so flags is always left at
// 0 -- a kernel that needs the exact SMBIOS version must read the entry
// point structure itself.
func (s *session) buildSystemTable() error {
	body := make([]byte, 28)

	if addr, ok := s.fw.SMBIOSAddress(); ok {
		binary.LittleEndian.PutUint64(body[4:12], addr)
	}
	if addr, ok := s.fw.RSDPAddress(); ok {
		binary.LittleEndian.PutUint64(body[12:20], addr)
	}
	if addr, ok := s.fw.UEFISystemTable(); ok {
		binary.LittleEndian.PutUint64(body[20:28], addr)
	}

	_, err := s.newTable(magicBSys, body)
	return err
}

// buildLoaderTable constructs the B_LOADER table identifying this
// bootloader build, ported from ubi_create_loader_table.
func (s *session) buildLoaderTable() error {
	nameAddr, err := s.allocAuxString(s.fw.BrandName())
	if err != nil {
		return err
	}
	body := make([]byte, 8)
	binary.LittleEndian.PutUint64(body[0:8], nameAddr)
	_, err = s.newTable(magicBLoader, body)
	return err
}
