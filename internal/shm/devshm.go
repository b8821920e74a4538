package shm

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// CanCreateOnDevShm reports whether size bytes fit on the device backing path.
// Only paths under /dev/shm on Linux are checked; every other path passes.
func CanCreateOnDevShm(size uint64, path string) bool {
	if runtime.GOOS != "linux" || !strings.HasPrefix(path, DefaultDir) {
		return true
	}
	stat, err := disk.Usage(DefaultDir)
	if err != nil {
		return false
	}
	return stat.Free >= size
}
