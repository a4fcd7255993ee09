//go:build !windows

package daemon

import "os"

// An orphaned process is reparented, so its parent pid changes.
func parentAlive(ppid int) bool {
	return os.Getppid() == ppid
}
