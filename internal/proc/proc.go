// Package proc holds the platform-specific pieces of child supervision:
// process groups, forced termination, liveness probes and wait-status
// decoding.
package proc

import (
	"os"
	"os/exec"
)

// Exit describes how a reaped process ended.
type Exit struct {
	Code     int
	Signaled bool
	Signal   string
}

// ExitOf decodes a finished process state. A nil state means the process
// never reported one, which is treated as an abnormal end.
func ExitOf(ps *os.ProcessState) Exit {
	if ps == nil {
		return Exit{Code: -1, Signaled: true, Signal: "unknown"}
	}
	return exitOf(ps)
}

func Isolate(cmd *exec.Cmd) { isolate(cmd) }

func Kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return kill(cmd)
}

func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return alive(pid)
}
