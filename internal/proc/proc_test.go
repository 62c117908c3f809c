package proc

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
)

func TestAlive_SelfAndNonsense(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Fatalf("expected current process to be alive")
	}
	if Alive(0) || Alive(-5) {
		t.Fatalf("expected non-positive pids to be dead")
	}
}

func TestExitOf_NilStateIsAbnormal(t *testing.T) {
	e := ExitOf(nil)
	if !e.Signaled || e.Code != -1 {
		t.Fatalf("unexpected exit: %+v", e)
	}
}

func TestKill_ReapedProcessIsGone(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	cmd := exec.Command("sh", "-c", "sleep 30")
	Isolate(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	if err := Kill(cmd); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	_ = cmd.Wait()

	e := ExitOf(cmd.ProcessState)
	if !e.Signaled || e.Signal != "SIGKILL" {
		t.Fatalf("expected SIGKILL exit, got %+v", e)
	}
	if Alive(pid) {
		t.Fatalf("expected pid %d to be gone after kill+wait", pid)
	}
}

func TestExitOf_PlainExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	cmd := exec.Command("sh", "-c", "exit 7")
	_ = cmd.Run()
	e := ExitOf(cmd.ProcessState)
	if e.Signaled || e.Code != 7 {
		t.Fatalf("unexpected exit: %+v", e)
	}
}
