//go:build !windows

package mcp

import (
	"os"
	"syscall"
)

// terminate asks the process to exit politely.
func terminate(p *os.Process) {
	_ = p.Signal(syscall.SIGTERM)
}
