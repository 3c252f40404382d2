//go:build linux

package sandbox

import "golang.org/x/sys/unix"

// applyResourceLimits caps the child's CPU time, address space and
// process count. The CPU hard limit sits one second above the soft
// limit so the run gets SIGXCPU, which we can classify, instead of a
// bare SIGKILL.
func applyResourceLimits(pid, cpuSeconds int) error {
	cpu := uint64(cpuSeconds)
	limits := []struct {
		resource int
		rlim     unix.Rlimit
	}{
		{unix.RLIMIT_CPU, unix.Rlimit{Cur: cpu, Max: cpu + 1}},
		{unix.RLIMIT_AS, unix.Rlimit{Cur: DefaultMemoryBytes, Max: DefaultMemoryBytes}},
		{unix.RLIMIT_NPROC, unix.Rlimit{Cur: DefaultMaxProcs, Max: DefaultMaxProcs}},
	}
	for _, l := range limits {
		if err := unix.Prlimit(pid, l.resource, &l.rlim, nil); err != nil {
			return err
		}
	}
	return nil
}
