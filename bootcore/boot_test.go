package bootcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/sxboot/s1boot/bootdrive"
	"github.com/sxboot/s1boot/config"
	"github.com/sxboot/s1boot/loader/ubi"
	"github.com/sxboot/s1boot/memory"
)

// fakeDrive serves file contents out of an in-memory map keyed by full
// "/<partition>/<path>" strings, standing in for the out-of-scope
// filesystem/boot-device layer.
type fakeDrive map[string][]byte

func (d fakeDrive) ReadFile(path string) ([]byte, error) {
	b, ok := d[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return b, nil
}

func (d fakeDrive) FileSize(path string) (uint64, error) {
	b, ok := d[path]
	if !ok {
		return 0, fmt.Errorf("no such file: %s", path)
	}
	return uint64(len(b)), nil
}

// fakeFirmware is a minimal ubi.Firmware stand-in; only used here so that
// Boot's "firmware required" check passes and a later check is the one
// that fails.
type fakeFirmware struct{}

func (fakeFirmware) UEFI() bool                             { return false }
func (fakeFirmware) ExitBootServices() error                { return nil }
func (fakeFirmware) SMBIOSAddress() (uint64, bool)          { return 0, false }
func (fakeFirmware) RSDPAddress() (uint64, bool)            { return 0, false }
func (fakeFirmware) UEFISystemTable() (uint64, bool)        { return 0, false }
func (fakeFirmware) SetVideoMode(w, h, bpp uint32, g bool) error { return nil }
func (fakeFirmware) Mode() ubi.VideoMode                    { return ubi.VideoMode{} }
func (fakeFirmware) ClearScreen()                           {}
func (fakeFirmware) DisableInterrupts()                     {}
func (fakeFirmware) UpdateScreen()                           {}
func (fakeFirmware) BrandName() string                      { return "test" }
func (fakeFirmware) BootDriveInfo() bootdrive.Info           { return bootdrive.Info{} }

func newTestManager() memory.Manager {
	return memory.NewBitmapManager(256<<20, memory.StackMeta{Location: 0x9000, Size: 0x1000})
}

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestBootUnknownKind(t *testing.T) {
	entry := config.MapEntry{"type": "bogus"}
	_, err := Boot(testLogger(), entry, fakeDrive{}, newTestManager(), nil)
	if err == nil {
		t.Fatal("expected an error for an unrecognised loader kind")
	}
}

func TestBootLinux86MissingArguments(t *testing.T) {
	entry := config.MapEntry{"type": "linux86", "kernel": "/BDRIVE0/kernel"}
	_, err := Boot(testLogger(), entry, fakeDrive{}, newTestManager(), nil)
	if err == nil {
		t.Fatal("expected an error when initrd/args are missing")
	}
}

// linux86 setup-header layout, mirrored from loader/linux86.setupHeader
// purely to build a valid test fixture; see spec.md §4.3.
type testSetupHeader struct {
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

const (
	testSetupHeaderOffset = 0x1f1
	testHeaderMagic       = 0x53726448
)

func buildTestKernel(t *testing.T, setupSects uint8) []byte {
	t.Helper()
	hdr := testSetupHeader{
		SetupSects:    setupSects,
		HeaderMagic:   testHeaderMagic,
		Version:       0x20c,
		LoadFlags:     0x01, // loaded-high
		InitrdAddrMax: 0x37ffffff,
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("encoding test setup header: %v", err)
	}
	total := testSetupHeaderOffset + buf.Len()
	spanned := (int(setupSects) + 1) * 0x200
	if spanned > total {
		total = spanned
	}
	total += 0x1000 // protected-mode body
	kernel := make([]byte, total)
	copy(kernel[testSetupHeaderOffset:], buf.Bytes())
	return kernel
}

func TestBootLinux86Success(t *testing.T) {
	drive := fakeDrive{
		"/BDRIVE0/kernel": buildTestKernel(t, 4),
		"/BDRIVE0/initrd": make([]byte, 1<<16),
	}
	entry := config.MapEntry{
		"type":   "linux86",
		"kernel": "/BDRIVE0/kernel",
		"initrd": "/BDRIVE0/initrd",
		"args":   "ro quiet",
	}
	result, err := Boot(testLogger(), entry, drive, newTestManager(), nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if result.Kind != KindLinux86 || result.Linux86 == nil {
		t.Fatalf("expected a linux86 result, got %+v", result)
	}
	if len(result.Linux86.Placements) == 0 {
		t.Fatal("expected at least one memory placement in the handoff")
	}
}

func TestBootUBIRequiresFirmware(t *testing.T) {
	entry := config.MapEntry{"type": "ubi", "file": "/BDRIVE0/kernel.elf"}
	_, err := Boot(testLogger(), entry, fakeDrive{}, newTestManager(), nil)
	if err == nil {
		t.Fatal("expected an error when no firmware capability is supplied")
	}
}

func TestBootUBIMissingFile(t *testing.T) {
	entry := config.MapEntry{"type": "ubi"}
	_, err := Boot(testLogger(), entry, fakeDrive{}, newTestManager(), fakeFirmware{})
	if err == nil {
		t.Fatal("expected an error when the ubi file option is missing")
	}
}
