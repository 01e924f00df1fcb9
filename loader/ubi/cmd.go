package ubi

import "encoding/binary"

// buildCmdTable constructs the B_CMD table, ported from
// ubi_create_cmd_table. The reference skips the table entirely when no
// "args" config option was given; this loader does the same since a
// zero-length chain entry would just be a wasted table for the kernel to
// skip over.
func (s *session) buildCmdTable(args string) error {
	if args == "" {
		return nil
	}
	cmdAddr, err := s.allocAuxString(args)
	if err != nil {
		return err
	}
	body := make([]byte, 8)
	binary.LittleEndian.PutUint64(body[0:8], cmdAddr)
	_, err = s.newTable(magicBCmd, body)
	return err
}
