// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the calling OS thread to the given logical CPU. The caller
// must have locked its goroutine to the thread. On unsupported platforms it
// returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUFor maps a loop index onto the available CPUs.
func CPUFor(index int) int {
	n := runtime.NumCPU()
	if index < 0 {
		index = -index
	}
	return index % n
}
