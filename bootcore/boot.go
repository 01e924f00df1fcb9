package bootcore

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sxboot/s1boot/config"
	"github.com/sxboot/s1boot/loader/linux86"
	"github.com/sxboot/s1boot/loader/ubi"
	"github.com/sxboot/s1boot/memory"
)

// Kind selects which loader personality a config.Entry targets.
type Kind string

const (
	KindLinux86 Kind = "linux86"
	KindUBI     Kind = "ubi"
)

// Drive is the subset of external collaborators the core needs to locate
// and read files on a boot drive: a partition label to backend.Storage
// resolver (the out-of-scope boot-device selection layer provides this in
// a real firmware build).
type Drive interface {
	// ReadFile returns file contents addressed as "/<partition-label>/<path>".
	ReadFile(path string) ([]byte, error)
	FileSize(path string) (uint64, error)
}

// Result is the handoff state a successful Boot produced: exactly one of
// Linux86 or UBI is set, matching Kind. Neither loader performs its own
// final jump (spec §1's out-of-scope "mode-switching trampoline"); this is
// everything that trampoline needs to actually transfer control.
type Result struct {
	Kind    Kind
	Linux86 *linux86.Handoff
	UBI     *ubi.Result
}

// Boot dispatches a single config entry to the matching loader personality.
// It is the one place in the module that logs failures: inner packages
// return errors instead of logging and continuing (they log only progress
// and debug detail), so this is the sole boundary where a failure is both
// logged and turned into a caller-visible error.
// fw is the firmware capability the ubi loader needs (see ubi.Firmware);
// bootLinux86 ignores it, since the linux86 loader has no such dependency.
func Boot(log *logrus.Entry, entry config.Entry, drive Drive, mem memory.Manager, fw ubi.Firmware) (*Result, error) {
	kind := Kind(entry.Get("type"))
	log = log.WithField("kind", kind)

	var result *Result
	var err error
	switch kind {
	case KindLinux86:
		result, err = bootLinux86(log, entry, drive, mem)
	case KindUBI:
		result, err = bootUBI(log, entry, drive, mem, fw)
	default:
		err = fmt.Errorf("unknown loader kind %q: %w", kind, StatusUnsupported)
	}
	if err != nil {
		log.WithError(err).Error("boot attempt failed")
		return nil, err
	}
	return result, nil
}

func bootLinux86(log *logrus.Entry, entry config.Entry, drive Drive, mem memory.Manager) (*Result, error) {
	kernelPath, ok := entry.Lookup("kernel")
	initrdPath, ok2 := entry.Lookup("initrd")
	args, ok3 := entry.Lookup("args")
	if !ok || !ok2 || !ok3 {
		return nil, fmt.Errorf("linux86 requires kernel, initrd and args options: %w", StatusMissingArguments)
	}
	kernel, err := drive.ReadFile(kernelPath)
	if err != nil {
		return nil, fmt.Errorf("reading kernel %q: %w", kernelPath, err)
	}
	initrd, err := drive.ReadFile(initrdPath)
	if err != nil {
		return nil, fmt.Errorf("reading initrd %q: %w", initrdPath, err)
	}
	handoff, err := linux86.Start(log, linux86.Input{
		Kernel: kernel,
		Initrd: initrd,
		Cmd:    args,
	}, mem)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: KindLinux86, Linux86: handoff}, nil
}

func bootUBI(log *logrus.Entry, entry config.Entry, drive Drive, mem memory.Manager, fw ubi.Firmware) (*Result, error) {
	file, ok := entry.Lookup("file")
	if !ok {
		return nil, fmt.Errorf("ubi requires a file option: %w", StatusMissingArguments)
	}
	if fw == nil {
		return nil, fmt.Errorf("ubi requires a firmware capability: %w", StatusMissingArguments)
	}
	args, _ := entry.Lookup("args")
	modules, _ := entry.Lookup("modules")
	disableKaslr := entry.Get("disableKaslr") == "true"

	ubiResult, err := ubi.Boot(log, ubi.Input{
		File:         file,
		Args:         args,
		Modules:      modules,
		DisableKASLR: disableKaslr,
		Firmware:     fw,
	}, drive, mem)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: KindUBI, UBI: ubiResult}, nil
}
