//go:build windows

package supervisor

import "os"

// Windows has no SIGTERM semantics; both paths degrade to TerminateProcess,
// so the cooperative stdin "stop" path is the only graceful option there.

func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
