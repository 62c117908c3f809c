//go:build windows

package proc

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/windows"
)

// Windows has no process groups reachable through a single kill.
func isolate(*exec.Cmd) {}

func kill(cmd *exec.Cmd) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func alive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(h) }()
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}

func exitOf(ps *os.ProcessState) Exit {
	code := ps.ExitCode()
	if code < 0 {
		return Exit{Code: -1, Signaled: true, Signal: "killed"}
	}
	return Exit{Code: code}
}
