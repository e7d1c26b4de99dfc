//go:build !windows

package supervisor

import "syscall"

// terminateGroup sends SIGTERM to the child's process group.
func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killGroup sends SIGKILL to the child's process group.
func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
