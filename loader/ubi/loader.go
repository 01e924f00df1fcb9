package ubi

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sxboot/s1boot/image"
	"github.com/sxboot/s1boot/image/elf"
	"github.com/sxboot/s1boot/image/pe"
	"github.com/sxboot/s1boot/memory"
	"github.com/sxboot/s1boot/status"
)

const (
	ubiHeaderSymbol  = "ubi_header"
	ubiHeaderSection = ".ubihdr"
)

// Boot loads an ELF or PE kernel implementing the Universal Boot Interface,
// builds its handoff table chain, and returns the information a
// firmware-level caller needs to transfer control to it. Ported end to end
// from ubi_start/kboot_start; see SPEC_FULL.md §4.4 and §4.5 for the phase
// breakdown this function walks through.
func Boot(log *logrus.Entry, in Input, drive Drive, mem memory.Manager) (*Result, error) {
	s := &session{
		log:   log,
		mem:   mem,
		drive: drive,
		fw:    in.Firmware,
		state: stateInit,
	}
	if s.fw == nil {
		return nil, fmt.Errorf("ubi: no firmware capability supplied: %w", status.StatusMissingArguments)
	}

	log.Infof("Universal Boot Interface version %d.%d", specVersionMajor, specVersionMinor)

	var rootFlags uint32
	if s.fw.UEFI() {
		rootFlags = flagsFirmwareUEFI
	} else {
		rootFlags = flagsFirmwareBIOS
	}
	rootBodyEncode := func() []byte {
		b := make([]byte, 8)
		b[0] = specVersionMajor
		b[1] = specVersionMinor
		le32(b[4:8], rootFlags)
		return b
	}
	rootTable, err := s.newTable(magicBRoot, rootBodyEncode())
	if err != nil {
		return nil, err
	}

	if err := s.loadKernelFile(in.File); err != nil {
		return nil, err
	}
	s.state = stateFileLoaded

	kroot, err := readKTableHeader(s.img, s.kernelFile, s.kRootVA)
	if err != nil {
		return nil, err
	}
	if kroot.Magic != magicKRoot {
		return nil, fmt.Errorf("kernel header is invalid (magic=%#x): %w", kroot.Magic, status.StatusInvalidFormat)
	}
	krootInfo, err := readKRootTable(s.img, s.kernelFile, s.kRootVA)
	if err != nil {
		return nil, err
	}
	if krootInfo.MinVerMajor > specVersionMajor || krootInfo.MinVerMinor > specVersionMinor {
		return nil, fmt.Errorf("kernel requires UBI version %d.%d: %w", krootInfo.MinVerMajor, krootInfo.MinVerMinor, status.StatusUnavailable)
	}
	if krootInfo.Bits != 64 {
		return nil, fmt.Errorf("kernel is %d-bit, not 64-bit: %w", krootInfo.Bits, status.StatusInvalidFormat)
	}
	s.state = stateKernelBound

	if err := s.createTables(krootInfo, in); err != nil {
		return nil, err
	}
	s.state = stateTablesBuilt

	servicesExited := false
	if krootInfo.Flags&flagsFirmwareUEFIExit == 0 {
		if err := s.fw.ExitBootServices(); err != nil {
			return nil, fmt.Errorf("exiting boot services: %w", err)
		}
		rootFlags |= flagsFirmwareUEFIExit
		rootTable.body = rootBodyEncode()
		servicesExited = true
	}
	s.state = stateServicesExited

	if err := s.loadKernelSegments(); err != nil {
		return nil, err
	}
	s.state = stateSegmentsLoaded

	if err := s.postInit(rootFlags); err != nil {
		return nil, err
	}
	s.state = statePostInitDone

	var conv CallConvention
	if s.isELF {
		conv = ConventionSysV
	} else {
		conv = ConventionMSx64
	}
	if s.img.Machine() == image.MachineI386 {
		conv = ConventionCdecl
	}

	result := &Result{
		RootAddr:       rootTable.addr,
		Tables:         s.finalize(),
		Aux:            s.auxBlobs(),
		Entry:          s.kernelEntry + s.kernelOffset,
		Convention:     conv,
		ServicesExited: servicesExited,
	}
	s.state = stateRunning
	return result, nil
}

func le32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// loadKernelFile reads the kernel file off the boot drive, identifies its
// format, locates its UBI header, and records its load span. Ported from
// ubi_load_kernel.
func (s *session) loadKernelFile(filePath string) error {
	partition, path := splitDrivePath(filePath)
	if partition == "" {
		return fmt.Errorf("file path %q has no partition component: %w", filePath, status.StatusInvalidFormat)
	}
	s.kernelPartition = partition
	s.kernelPath = path

	data, err := s.drive.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading kernel file %q: %w", filePath, status.StatusNotFound)
	}
	s.kernelFile = data

	var img image.Image
	var headerVA uint64
	var found bool
	if elfImg, elfErr := elf.Open(data); elfErr == nil {
		s.isELF = true
		img = elfImg
		headerVA, found = img.SymbolOrSectionAddr(ubiHeaderSymbol)
		if !found {
			headerVA, found = img.SymbolOrSectionAddr(ubiHeaderSection)
		}
	} else if peImg, peErr := pe.Open(data); peErr == nil {
		s.isELF = false
		img = peImg
		headerVA, found = img.SymbolOrSectionAddr(ubiHeaderSection)
	} else {
		return fmt.Errorf("file format not recognized: %w", status.StatusInvalidFormat)
	}
	if !found {
		return fmt.Errorf("no UBI kernel header found in kernel file: %w", status.StatusInvalidFormat)
	}
	s.img = img
	s.kRootVA = headerVA
	s.kernelEntry = img.Entry()

	minAddr := ^uint64(0)
	var maxAddr uint64
	for _, seg := range img.Segments() {
		if seg.Vaddr < minAddr {
			minAddr = seg.Vaddr
		}
		if seg.Vaddr+seg.Memsz > maxAddr {
			maxAddr = seg.Vaddr + seg.Memsz
		}
	}
	if minAddr == ^uint64(0) {
		return fmt.Errorf("kernel image has no loadable segments: %w", status.StatusInvalidFormat)
	}
	if maxAddr-minAddr == 0 {
		return fmt.Errorf("kernel image is empty: %w", status.StatusInvalidFormat)
	}
	s.kernelMinVA = minAddr
	s.kernelMaxVA = maxAddr

	addr, err := s.mem.AllocSequential(uint64(len(data)))
	if err != nil {
		return fmt.Errorf("allocating kernel file buffer: %w", status.StatusOutOfMemory)
	}
	s.mem.Reserve(addr, uint64(len(data)), memory.TypeBootloader)
	s.kernelFileAddr = addr
	return nil
}

// createTables builds every B-table, ported from ubi_create_tables. It
// reads each optional K-table the kernel declared and feeds it to the
// matching builder; B_SYS, B_MEMMAP, B_LOADER, B_CMD and B_BDRIVE are
// unconditional (aside from B_CMD, which is skipped without an "args"
// option).
func (s *session) createTables(kroot kRootTable, in Input) error {
	memVA, memOK, err := findKernelTable(s.img, s.kernelFile, s.kRootVA, magicKMem)
	if err != nil {
		return err
	}
	var kmem *kMemTable
	if memOK {
		v, err := readKMemTable(s.img, s.kernelFile, memVA)
		if err != nil {
			return err
		}
		kmem = &v
	}
	s.disableKASLR = in.DisableKASLR
	if err := s.buildMemTable(kmem); err != nil {
		return err
	}

	vidVA, vidOK, err := findKernelTable(s.img, s.kernelFile, s.kRootVA, magicKVid)
	if err != nil {
		return err
	}
	var kvid *kVideoTable
	if vidOK {
		v, err := readKVideoTable(s.img, s.kernelFile, vidVA)
		if err != nil {
			return err
		}
		kvid = &v
	}
	if err := s.buildVideoTable(kvid); err != nil {
		return err
	}

	modVA, modOK, err := findKernelTable(s.img, s.kernelFile, s.kRootVA, magicKMod)
	if err != nil {
		return err
	}
	var kmod *kModuleTable
	if modOK {
		v, err := readKModuleTable(s.img, s.kernelFile, modVA)
		if err != nil {
			return err
		}
		kmod = &v
	}
	if err := s.buildModuleTable(kmod, in.Modules); err != nil {
		return err
	}

	if err := s.buildSystemTable(); err != nil {
		return err
	}
	if err := s.buildMemmapTable(); err != nil {
		return err
	}
	if err := s.buildLoaderTable(); err != nil {
		return err
	}
	if err := s.buildCmdTable(in.Args); err != nil {
		return err
	}
	if err := s.buildBdriveTable(); err != nil {
		return err
	}
	return nil
}

// loadKernelSegments self-relocates the loader if needed, then copies every
// loadable segment of the kernel image to its final virtual address,
// ported from ubi_load_kernel_segs.
func (s *session) loadKernelSegments() error {
	if err := s.selfRelocate(s.kernelMinVA+s.kernelOffset, s.kernelMaxVA+s.kernelOffset); err != nil {
		return fmt.Errorf("relocating loader: %w", err)
	}

	for _, seg := range s.img.Segments() {
		dst := seg.Vaddr + s.kernelOffset
		data := make([]byte, seg.Memsz)
		if seg.Filesz > 0 {
			copy(data, s.kernelFile[seg.Fileoff:seg.Fileoff+seg.Filesz])
		}
		phys, err := s.mem.AllocSequential(seg.Memsz)
		if err != nil {
			return fmt.Errorf("allocating kernel segment at %#x: %w", dst, status.StatusOutOfMemory)
		}
		s.mem.Reserve(phys, seg.Memsz, memory.TypeOS)
		if !s.mem.IsMapped(dst, seg.Memsz) {
			if err := s.mem.Map(phys, dst, seg.Memsz); err != nil {
				return fmt.Errorf("mapping kernel segment at %#x: %w", dst, err)
			}
		}
		s.aux = append(s.aux, auxBlob{addr: dst, bytes: data})
	}
	return nil
}

// postInit finalizes every table's runtime-dependent fields (adopted video
// mode, final memory map, clear-screen flag), ported from ubi_post_init.
// Linking and checksumming the chain happen afterwards, in finalize.
func (s *session) postInit(rootFlags uint32) error {
	if s.clearScreen {
		s.fw.ClearScreen()
	}
	if err := s.postInitMemmap(); err != nil {
		return fmt.Errorf("building final memory map: %w", err)
	}
	s.postInitVideo()

	s.fw.DisableInterrupts()
	s.fw.UpdateScreen()
	return nil
}
