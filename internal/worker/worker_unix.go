//go:build !windows

package worker

import "syscall"

// sysProcAttrNewGroup starts the subprocess in its own process group so
// Stop can signal the whole group instead of a single PID.
func sysProcAttrNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
