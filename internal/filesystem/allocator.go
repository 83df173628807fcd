package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// Allocator handles file pre-allocation and disk space checks.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// AllocateFile truncates path to size after confirming the volume has room.
func (a *Allocator) AllocateFile(path string, size int64) error {
	if err := a.CheckDiskSpace(path, size); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return fmt.Errorf("failed to open file for allocation: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to pre-allocate space: %w", err)
	}

	return nil
}

const diskSpaceBuffer = 100 * 1024 * 1024

// CheckDiskSpace reports an error if the volume containing path does not
// have required bytes free, plus a 100MB buffer.
func (a *Allocator) CheckDiskSpace(path string, required int64) error {
	dir := filepath.Dir(path)

	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	if int64(usage.Free) < (required + diskSpaceBuffer) {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", required, usage.Free)
	}

	return nil
}
