package bootcore

import "github.com/sxboot/s1boot/status"

// Status re-exports status.Status so existing callers of bootcore.StatusX
// keep working; the taxonomy itself lives in the leaf package status so
// that loader/linux86, loader/ubi, and filesystem/ext4 can depend on it
// without importing bootcore (which depends on them).
type Status = status.Status

const (
	StatusMissingArguments = status.StatusMissingArguments
	StatusUnsupported      = status.StatusUnsupported
	StatusInvalidFormat    = status.StatusInvalidFormat
	StatusUnavailable      = status.StatusUnavailable
	StatusOutOfMemory      = status.StatusOutOfMemory
	StatusNotFound         = status.StatusNotFound
	StatusIoError          = status.StatusIoError
	StatusTooLarge         = status.StatusTooLarge
	StatusGeneric          = status.StatusGeneric
)
