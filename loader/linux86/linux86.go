// Package linux86 implements the Linux/x86 boot protocol: patch a bzImage's
// setup header with the location of its own real-mode code, the initrd,
// and the command line, then hand off in 16-bit real mode per the
// published protocol linux.git documents in Documentation/x86/boot.rst.
package linux86

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sxboot/s1boot/memory"
	"github.com/sxboot/s1boot/status"
)

const (
	headerMagic = 0x53726448 // "HdrS"
	basePtr     = 0x70000
	heapEnd     = 0xe000

	protectedModeBase = 0x100000
	cmdLineMax        = 0x2000

	loadflagLoadedHigh = 0x01
	loadflagCanUseHeap = 0x80
)

// setupHeaderOffset is where the setup header begins within the kernel
// image, per the boot protocol.
const setupHeaderOffset = 0x1f1

// setupHeader mirrors struct linux86_setup_header (the subset of the
// published Linux boot protocol this loader reads or patches).
type setupHeader struct {
	SetupSects    uint8
	RootFlags     uint16
	Syssize       uint32
	RamSize       uint16
	VidMode       uint16
	RootDev       uint16
	Boot          uint16
	Jump          uint16
	HeaderMagic   uint32
	Version       uint16
	Realmode      uint32
	StartSys      uint16
	KernelVersion uint16
	TypeOfLoader  uint8
	LoadFlags     uint8
	Setupmovesize uint16
	Code32Start   uint32
	RamdiskImage  uint32
	RamdiskSize   uint32
	BootSectKludg uint32
	HeapEndPtr    uint16
	ExtLoaderVer  uint8
	ExtLoaderType uint8
	CmdLinePtr    uint32
	InitrdAddrMax uint32
	KernelAlign   uint32
	RelocatableKr uint8
	MinAlignment  uint8
	XLoadFlags    uint16
	CmdlineSize   uint32
	HardwareSubar uint32
	HardwareSubda uint64
	PayloadOffset uint32
	PayloadLength uint32
	SetupData     uint64
	PrefAddress   uint64
	InitSize      uint32
	HandoverOff   uint32
	KernelInfoOff uint32
}

const setupHeaderSize = 0x7b // bytes from offset 0x1f1 through kernel_info_offset

// Input carries everything the Linux loader needs from the boot config.
type Input struct {
	Kernel []byte
	Initrd []byte
	Cmd    string
}

// Placement is a chunk of handoff data the caller must copy to a fixed
// physical address before transferring control, the same role ubi.Blob
// plays for the UBI loader: actually writing Bytes to Addr in real memory
// is the caller's job, since this package never touches physical memory
// directly (see memory.Manager's Out-of-scope note).
type Placement struct {
	Addr  uint64
	Bytes []byte
}

// Handoff describes the real-mode machine state the caller transfers
// control to, plus every buffer that must land at a fixed physical address
// first (real-mode setup, protected-mode kernel body, initrd, command
// line, per spec.md §4.3's layout table). The boot core is responsible for
// performing the actual 16-bit jump; this package only computes where
// everything goes.
type Handoff struct {
	CS uint16
	IP uint16
	DS uint16
	SS uint16
	SP uint16
	BP uint16

	Placements []Placement
}

// Start validates and lays out a bzImage plus initrd in memory per the
// Linux/x86 boot protocol, ported from the reference loader's
// linux86_start. It intentionally leaves the kernel and initrd buffers
// mapped at their registered locations on success -- unlike the reference
// loader's epilogue, which frees them unconditionally, freeing memory the
// kernel is about to jump into and read from would be a use-after-free.
func Start(log *logrus.Entry, in Input, mem memory.Manager) (*Handoff, error) {
	if len(in.Kernel) < setupHeaderOffset+setupHeaderSize {
		return nil, fmt.Errorf("kernel image too small to hold a setup header: %w", status.StatusInvalidFormat)
	}

	var hdr setupHeader
	r := bytes.NewReader(in.Kernel[setupHeaderOffset:])
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("decoding setup header: %w", status.StatusInvalidFormat)
	}
	if hdr.HeaderMagic != headerMagic {
		return nil, fmt.Errorf("bad setup header magic 0x%x: %w", hdr.HeaderMagic, status.StatusInvalidFormat)
	}
	if hdr.Version < 0x202 {
		return nil, fmt.Errorf("boot protocol version 0x%x too old: %w", hdr.Version, status.StatusUnsupported)
	}
	if hdr.LoadFlags&loadflagLoadedHigh == 0 {
		return nil, fmt.Errorf("kernel is not a bzImage (loaded-high not set): %w", status.StatusUnsupported)
	}

	hdr.VidMode = 0xffff
	hdr.TypeOfLoader = 0xff

	setupSectSize := uint32(hdr.SetupSects+1) * 0x200
	if uint64(setupSectSize) > uint64(len(in.Kernel)) {
		return nil, fmt.Errorf("setup_sects overruns kernel image: %w", status.StatusInvalidFormat)
	}

	log.WithFields(logrus.Fields{
		"setup_sects": hdr.SetupSects,
		"version":     fmt.Sprintf("0x%x", hdr.Version),
	}).Debug("linux86: parsed setup header")

	mem.Reserve(basePtr, uint64(setupSectSize), memory.TypeBootloader)

	kernelSize := uint64(len(in.Kernel))
	protSize := kernelSize - uint64(setupSectSize)
	mem.Reserve(protectedModeBase, protSize, memory.TypeBootloader)

	initrdAddrMax := uint64(0x37ffffff)
	if hdr.Version >= 0x203 {
		initrdAddrMax = uint64(hdr.InitrdAddrMax)
	}
	var initrdLocation uint64
	if len(in.Initrd) > 0 {
		initrdLocation = protectedModeBase + protSize
		if initrdLocation%0x1000 != 0 {
			initrdLocation += 0x1000 - initrdLocation%0x1000
		}
		if initrdLocation+uint64(len(in.Initrd)) > initrdAddrMax {
			return nil, fmt.Errorf("initrd would load above initrd_addr_max: %w", status.StatusTooLarge)
		}
		mem.Reserve(initrdLocation, uint64(len(in.Initrd)), memory.TypeBootloader)
		hdr.RamdiskImage = uint32(initrdLocation)
		hdr.RamdiskSize = uint32(len(in.Initrd))
	}

	hdr.HeapEndPtr = heapEnd - 0x200
	hdr.LoadFlags |= loadflagCanUseHeap

	cmdLen := len(in.Cmd)
	if cmdLen > cmdLineMax {
		cmdLen = cmdLineMax
	}
	cmdLinePtr := uint64(basePtr + heapEnd)
	hdr.CmdLinePtr = uint32(cmdLinePtr)
	mem.Reserve(cmdLinePtr, uint64(cmdLen), memory.TypeBootloader)

	patched := new(bytes.Buffer)
	if err := binary.Write(patched, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("re-encoding setup header: %w", err)
	}
	copy(in.Kernel[setupHeaderOffset:], patched.Bytes())

	placements := []Placement{
		{Addr: basePtr, Bytes: in.Kernel[:setupSectSize]},
		{Addr: protectedModeBase, Bytes: in.Kernel[setupSectSize:]},
	}
	if len(in.Initrd) > 0 {
		placements = append(placements, Placement{Addr: initrdLocation, Bytes: in.Initrd})
	}
	if cmdLen > 0 {
		placements = append(placements, Placement{Addr: cmdLinePtr, Bytes: []byte(in.Cmd[:cmdLen])})
	}

	return &Handoff{
		SP:         heapEnd,
		BP:         heapEnd,
		CS:         uint16(basePtr>>4) + 0x20,
		SS:         uint16(basePtr >> 4),
		DS:         uint16(basePtr >> 4),
		Placements: placements,
	}, nil
}
