package ubi

import "encoding/binary"

// commonVideoModes and commonBPPs are the fallback cascade
// ubi_create_vid_table works down when the kernel's exact requested mode
// isn't available.
var commonVideoModes = [8][2]uint32{
	{320, 200},
	{640, 480},
	{800, 600},
	{1024, 768},
	{1366, 768},
	{1280, 1024},
	{1600, 900},
	{1920, 1080},
}

var commonBPPs = [4]uint32{15, 16, 24, 32}

// buildVideoTable constructs the B_VID table from the kernel's optional
// K_VID declaration, ported from ubi_create_vid_table. Actually setting the
// mode is delegated to the Firmware capability; the table's width/height/
// bpp/pitch/cursor fields are filled from whatever mode the firmware
// actually adopted, during post-init (postInitVideo), matching the
// reference's "table settings set in post init" comment.
func (s *session) buildVideoTable(k *kVideoTable) error {
	var clearScreen bool
	if k != nil {
		switch k.Flags & maskVideoMode {
		case 1:
			if err := s.fw.SetVideoMode(80, 25, 16, false); err != nil {
				return err
			}
		case 2:
			if err := s.setGraphicsMode(k.Width, k.Height, k.Bpp); err != nil {
				return err
			}
		}
		if k.Flags&flagsVideoClearScreen != 0 {
			clearScreen = true
		}
	}
	s.clearScreen = clearScreen

	body := make([]byte, 36)
	t, err := s.newTable(magicBVid, body)
	if err != nil {
		return err
	}
	s.videoTable = t
	return nil
}

// setGraphicsMode attempts the kernel's exact requested mode, then other
// common bit depths at the same resolution, then the largest common
// resolution no bigger than requested, then a hard-coded 640x480x32
// fallback -- the same cascade as ubi_create_vid_table's kvidmode==2 path.
func (s *session) setGraphicsMode(width, height, bpp uint32) error {
	if s.fw.SetVideoMode(width, height, bpp, true) == nil {
		return nil
	}
	for i := len(commonBPPs) - 1; i >= 0; i-- {
		if commonBPPs[i] == bpp {
			continue
		}
		if s.fw.SetVideoMode(width, height, commonBPPs[i], true) == nil {
			return nil
		}
	}
	for i := len(commonVideoModes) - 1; i >= 0; i-- {
		w, h := commonVideoModes[i][0], commonVideoModes[i][1]
		if w*h <= width*height {
			if s.fw.SetVideoMode(w, h, 32, true) == nil {
				return nil
			}
		}
	}
	return s.fw.SetVideoMode(640, 480, 32, true)
}

// postInitVideo fills in the B_VID table's actual adopted mode, queried
// from the firmware after every SetVideoMode attempt has settled, mirroring
// the stdio64_get_mode/stdio64_get_cursor_pos calls in ubi_post_init.
func (s *session) postInitVideo() {
	mode := s.fw.Mode()
	body := s.videoTable.body
	var flags uint32
	if mode.Graphics {
		flags |= flagsVideoGraphics
	} else {
		flags |= flagsVideoText
	}
	if s.clearScreen {
		flags |= flagsVideoClearScreen
	}
	binary.LittleEndian.PutUint32(body[0:4], flags)
	binary.LittleEndian.PutUint32(body[4:8], mode.Width)
	binary.LittleEndian.PutUint32(body[8:12], mode.Height)
	binary.LittleEndian.PutUint32(body[12:16], mode.Bpp)
	binary.LittleEndian.PutUint32(body[16:20], mode.Pitch)
	binary.LittleEndian.PutUint64(body[20:28], mode.FramebufferAddr)
	cursorX, cursorY := mode.CursorX, mode.CursorY
	if mode.Graphics {
		// the reference implementation scales the text-mode cursor cell
		// position up into pixels for graphics mode; Firmware.Mode is
		// expected to report CursorX/Y already in the units appropriate
		// for the mode it adopted, so no further scaling happens here.
		_ = cursorX
		_ = cursorY
	}
	binary.LittleEndian.PutUint32(body[28:32], cursorX)
	binary.LittleEndian.PutUint32(body[32:36], cursorY)
}
