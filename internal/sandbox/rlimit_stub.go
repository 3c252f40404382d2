//go:build !linux

package sandbox

// applyResourceLimits is a no-op where prlimit is unavailable.
func applyResourceLimits(pid, cpuSeconds int) error { return nil }
