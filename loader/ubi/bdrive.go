package ubi

import "encoding/binary"

// buildBdriveTable constructs the B_BDRIVE table describing the drive the
// kernel was booted from, ported from ubi_create_bdrive_table. The actual
// drive-type/UUID lookup lives in package bootdrive; Firmware.BootDriveInfo
// hands back the already-resolved value, this just handles the wire
// encoding.
func (s *session) buildBdriveTable() error {
	info := s.fw.BootDriveInfo()

	body := make([]byte, 34)
	typeBytes := []byte(info.Type)
	if len(typeBytes) > 8 {
		typeBytes = typeBytes[:8]
	}
	copy(body[0:8], typeBytes)
	binary.LittleEndian.PutUint16(body[8:10], uint16(info.PartitionFormat))
	copy(body[10:26], info.Signature[:])
	binary.LittleEndian.PutUint32(body[26:30], info.PartNum)
	binary.LittleEndian.PutUint32(body[30:34], info.Other)

	_, err := s.newTable(magicBBdrive, body)
	return err
}
