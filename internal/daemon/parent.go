package daemon

import "os"

// ParentAlive returns a check that reports whether the process that started
// this one is still running.
func ParentAlive() func() bool {
	ppid := os.Getppid()
	return func() bool {
		return parentAlive(ppid)
	}
}
