package metrics

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMemory reports the resident set size of the current process in
// bytes.
func ProcessMemory() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
