package ubi

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeDrive struct {
	files map[string][]byte
}

func (d *fakeDrive) ReadFile(path string) ([]byte, error) {
	data, ok := d.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return data, nil
}

func (d *fakeDrive) FileSize(path string) (uint64, error) {
	data, ok := d.files[path]
	if !ok {
		return 0, fmt.Errorf("no such file: %s", path)
	}
	return uint64(len(data)), nil
}

func newModuleTestSession(t *testing.T) *session {
	t.Helper()
	s := newTestSession(t)
	s.log = logrus.NewEntry(logrus.New())
	s.kernelPartition = "/BDRIVE0"
	s.kernelPath = "/boot/kernel.elf"
	s.kernelFile = []byte{0x7f, 'E', 'L', 'F'}
	addr, err := s.mem.AllocSequential(uint64(len(s.kernelFile)))
	if err != nil {
		t.Fatalf("allocating kernel file: %v", err)
	}
	s.kernelFileAddr = addr
	s.drive = &fakeDrive{files: map[string][]byte{
		"/BDRIVE0/init.ko": {1, 2, 3, 4},
	}}
	return s
}

func TestBuildModuleTableAlwaysIncludesKernelAsModuleZero(t *testing.T) {
	s := newModuleTestSession(t)
	if err := s.buildModuleTable(nil, ""); err != nil {
		t.Fatalf("buildModuleTable: %v", err)
	}
	if len(s.aux) < 1 {
		t.Fatalf("expected at least one aux blob for the module path string")
	}
	// aux holds the kernel path string and the module array; the B_MOD
	// table itself is in s.tables
	foundArray := false
	for _, a := range s.aux {
		if len(a.bytes) == 24 {
			foundArray = true
		}
	}
	if !foundArray {
		t.Fatalf("expected a 24-byte single-entry module array among the aux blobs")
	}
}

func TestBuildModuleTableAppendsConfigModules(t *testing.T) {
	s := newModuleTestSession(t)
	if err := s.buildModuleTable(nil, "/init.ko:"); err != nil {
		t.Fatalf("buildModuleTable: %v", err)
	}
	foundArray := false
	for _, a := range s.aux {
		if len(a.bytes) == 48 { // 2 entries * 24 bytes
			foundArray = true
		}
	}
	if !foundArray {
		t.Fatalf("expected a 48-byte two-entry module array, got blobs: %v", s.aux)
	}
}

func TestBuildModuleTableMissingFileFails(t *testing.T) {
	s := newModuleTestSession(t)
	if err := s.buildModuleTable(nil, "/missing.ko"); err == nil {
		t.Fatalf("expected an error for a module file that doesn't exist")
	}
}
