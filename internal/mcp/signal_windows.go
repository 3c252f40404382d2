//go:build windows

package mcp

import "os"

// Windows has no SIGTERM; fall back to a hard kill.
func terminate(p *os.Process) {
	_ = p.Kill()
}
