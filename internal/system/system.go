package system

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// bytesPerWorker is the rough peak of one worker: a decoded 12MP image, its
// OpenCV copies and the loaded nets.
const bytesPerWorker = 600 << 20

// DefaultWorkers sizes the pool from physical cores, capped so the workers
// fit in available memory. Never less than one.
func DefaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available > 0 {
		if byMem := int(vm.Available / bytesPerWorker); byMem < n {
			n = byMem
		}
	}
	return max(n, 1)
}

// Memory is a snapshot for the run log.
type Memory struct {
	TotalMB     uint64
	AvailableMB uint64
	UsedPercent float64
}

func MemorySnapshot() (Memory, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, err
	}
	return Memory{
		TotalMB:     vm.Total >> 20,
		AvailableMB: vm.Available >> 20,
		UsedPercent: vm.UsedPercent,
	}, nil
}
