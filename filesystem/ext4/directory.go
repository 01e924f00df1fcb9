package ext4

import "fmt"

const dirEntryHeaderSize = 8

// dirEntry mirrors ext_dir_entry. name_len bytes of name follow the fixed
// 8-byte header; rec_len (not name_len) is how far to advance to the next
// entry, since ext4 pads records for alignment and to absorb deleted slots.
type dirEntry struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string
}

// readDirEntries implements vfs_listDir's linear scan of a directory's raw
// contents. Entries with name_len == 0 (the original's marker for an unused
// slot) are skipped; "." and ".." are kept here, since path resolution
// needs them, and filtered later by the public ReadDir.
//
// The scan decodes each entry's fixed header before ever looking at
// rec_len, and only then checks whether rec_len is zero or would carry the
// cursor past the end of the buffer -- it never dereferences fields beyond
// what's already known to be in bounds.
func readDirEntries(contents []byte) ([]dirEntry, error) {
	var entries []dirEntry
	cursor := 0
	for cursor+dirEntryHeaderSize <= len(contents) {
		inode := leU32(contents, cursor)
		recLen := uint16(contents[cursor+4]) | uint16(contents[cursor+5])<<8
		nameLen := contents[cursor+6]
		fileType := contents[cursor+7]

		if recLen == 0 {
			break
		}
		if cursor+int(recLen) > len(contents) {
			return nil, fmt.Errorf("directory entry record length runs past buffer: %w", errInvalidFormat)
		}
		if inode != 0 && nameLen != 0 {
			nameStart := cursor + dirEntryHeaderSize
			nameEnd := nameStart + int(nameLen)
			if nameEnd > cursor+int(recLen) {
				return nil, fmt.Errorf("directory entry name length runs past record: %w", errInvalidFormat)
			}
			entries = append(entries, dirEntry{
				Inode:    inode,
				RecLen:   recLen,
				NameLen:  nameLen,
				FileType: fileType,
				Name:     string(contents[nameStart:nameEnd]),
			})
		}
		cursor += int(recLen)
	}
	return entries, nil
}

func findDirEntry(contents []byte, name string) (*dirEntry, error) {
	entries, err := readDirEntries(contents)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i], nil
		}
	}
	return nil, nil
}
