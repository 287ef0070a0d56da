package item

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// diskSafetyBufferBytes mirrors internal/filesystem/allocator.go's 100MB
// safety margin beyond the probed size.
const diskSafetyBufferBytes = 100 * 1024 * 1024

// checkDiskSpace refuses a download the disk can't hold once the
// info-probe has reported a size; the Driver calls it right after each
// successful info-probe. sizeBytes == 0 (unknown) is always allowed
// through.
func checkDiskSpace(dir string, sizeBytes int64) error {
	if sizeBytes <= 0 {
		return nil
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return nil // can't determine free space; don't block the download on it
	}
	need := uint64(sizeBytes) + diskSafetyBufferBytes
	if usage.Free < need {
		return fmt.Errorf("insufficient disk space: need %d bytes, have %d free", need, usage.Free)
	}
	return nil
}
