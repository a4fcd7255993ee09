//go:build windows

package daemon

import "os"

// Windows does not reparent orphans; FindProcess fails once the pid is gone.
func parentAlive(ppid int) bool {
	p, err := os.FindProcess(ppid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
