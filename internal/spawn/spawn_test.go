package spawn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/marcohefti/multiproc-lab/internal/bundle"
	"github.com/marcohefti/multiproc-lab/internal/codes"
	"github.com/marcohefti/multiproc-lab/internal/config"
	"github.com/marcohefti/multiproc-lab/internal/launch"
	"github.com/marcohefti/multiproc-lab/internal/outcome"
	"github.com/marcohefti/multiproc-lab/internal/proc"
	"github.com/marcohefti/multiproc-lab/internal/trace"
)

const helperScenario = "TestHelperChild"

// TestHelperChild is the child side of the tests below. It only does work
// when re-entered by the spawner; the bundle's "action" picks the behavior.
func TestHelperChild(t *testing.T) {
	c, err := launch.FromProcess()
	if err != nil {
		fmt.Fprintf(os.Stderr, "helper: %v\n", err)
		os.Exit(97)
	}
	if c.Role != launch.Child {
		t.Skip("helper scenario; runs only in child role")
	}

	action, _ := c.Args.String("action")
	switch action {
	case "exit":
		code, _ := c.Args.Int("code")
		if msg, ok := c.Args.String("stderr"); ok {
			fmt.Fprintln(os.Stderr, msg)
		}
		if code != 0 {
			os.Exit(int(code))
		}
	case "expect-writer":
		path, _ := c.Args.String("path")
		mode, _ := c.Args.String("mode")
		if c.Args.Len() != 3 || path != "/tmp/x.db" || mode != "writer" {
			fmt.Fprintf(os.Stderr, "unexpected bundle: %v\n", c.Args.Map())
			os.Exit(9)
		}
		if c.Scenario != helperScenario || c.ParentPID != os.Getppid() {
			fmt.Fprintf(os.Stderr, "unexpected context: %+v ppid=%d\n", c, os.Getppid())
			os.Exit(10)
		}
	case "sleep":
		time.Sleep(time.Minute)
	case "grandchild":
		pidFile, _ := c.Args.String("pidFile")
		gc := exec.Command("sleep", "60")
		if err := gc.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "start grandchild: %v\n", err)
			os.Exit(11)
		}
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(gc.Process.Pid)), 0o644); err != nil {
			os.Exit(12)
		}
		time.Sleep(time.Minute)
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		os.Exit(98)
	}
}

func helperInvocation(t *testing.T, args map[string]any) Invocation {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return Invocation{
		Executable: exe,
		Scenario:   helperScenario,
		Args:       bundle.MustOf(args),
	}
}

func TestSpawn_ExitZero(t *testing.T) {
	o, err := Spawner{Timeout: 30 * time.Second}.Spawn(context.Background(), helperInvocation(t, map[string]any{"action": "exit", "code": 0}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := outcome.Reduce(o); got != 0 {
		t.Fatalf("expected code 0, got %d\n%s", got, o.Describe())
	}
	if o.Status != outcome.StatusExited || !o.Reaped || o.PID <= 0 {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if o.InvocationID == "" {
		t.Fatalf("expected an invocation id to be assigned")
	}
}

func TestSpawn_ExitSevenPassesThrough(t *testing.T) {
	o, err := Spawner{}.Spawn(context.Background(), helperInvocation(t, map[string]any{"action": "exit", "code": 7, "stderr": "writer saw stale data"}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := outcome.Reduce(o); got != 7 {
		t.Fatalf("expected code 7, got %d\n%s", got, o.Describe())
	}
	if !codes.Is(o.Err(), codes.NonZeroExit) {
		t.Fatalf("expected %s, got %v", codes.NonZeroExit, o.Err())
	}
	if o.Timeout != config.DefaultChildTimeout {
		t.Fatalf("zero Spawner should use the config default timeout, got %s", o.Timeout)
	}
	if !bytes.Contains(o.Stderr, []byte("writer saw stale data")) {
		t.Fatalf("expected stderr tail to be captured, got %q", o.Stderr)
	}
}

func TestSpawn_ChildRecoversBundle(t *testing.T) {
	inv := helperInvocation(t, map[string]any{"action": "expect-writer", "path": "/tmp/x.db", "mode": "writer"})
	o, err := Spawner{}.Spawn(context.Background(), inv)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := outcome.Reduce(o); got != 0 {
		t.Fatalf("child did not see the bundle it was sent (code %d)\n%s", got, o.Describe())
	}
}

func TestSpawn_TimeoutKillsChild(t *testing.T) {
	start := time.Now()
	o, err := Spawner{Timeout: 300 * time.Millisecond}.Spawn(context.Background(), helperInvocation(t, map[string]any{"action": "sleep"}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if o.Status != outcome.StatusTimeout {
		t.Fatalf("expected timeout status, got %s\n%s", o.Status, o.Describe())
	}
	if got := outcome.Reduce(o); got != outcome.Abnormal {
		t.Fatalf("expected sentinel %d, got %d", outcome.Abnormal, got)
	}
	if !codes.Is(o.Err(), codes.Timeout) {
		t.Fatalf("expected %s, got %v", codes.Timeout, o.Err())
	}
	if !o.Reaped || proc.Alive(o.PID) {
		t.Fatalf("child pid %d still alive after timeout", o.PID)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestSpawn_TimeoutKillsGrandchildren(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection reads /proc")
	}
	pidFile := filepath.Join(t.TempDir(), "grandchild.pid")
	inv := helperInvocation(t, map[string]any{"action": "grandchild", "pidFile": pidFile})

	o, err := Spawner{Timeout: 2 * time.Second}.Spawn(context.Background(), inv)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if o.Status != outcome.StatusTimeout {
		t.Fatalf("expected timeout status, got %s\n%s", o.Status, o.Describe())
	}
	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("grandchild pid file: %v\n%s", err, o.Describe())
	}
	gpid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !goneOrZombie(gpid) {
		if time.Now().After(deadline) {
			t.Fatalf("grandchild pid %d survived the group kill", gpid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// goneOrZombie treats a zombie as dead: it holds no resources and only waits
// for whatever reaps orphans on this host.
func goneOrZombie(pid int) bool {
	if !proc.Alive(pid) {
		return true
	}
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	fields := strings.Fields(string(raw[bytes.LastIndexByte(raw, ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func TestSpawn_CancelKillsChild(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o, err := Spawner{Timeout: time.Minute}.Spawn(ctx, helperInvocation(t, map[string]any{"action": "sleep"}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if o.Status != outcome.StatusCanceled || outcome.Reduce(o) != outcome.Abnormal {
		t.Fatalf("unexpected outcome: %s", o.Describe())
	}
	if !codes.Is(o.Err(), codes.Crash) {
		t.Fatalf("expected %s, got %v", codes.Crash, o.Err())
	}
}

func TestSpawn_NestedSpawnRejectedWithoutStarting(t *testing.T) {
	inv := Invocation{
		// If a process were started this would fail with MPT_E_SPAWN instead.
		Executable: filepath.Join(t.TempDir(), "does-not-exist"),
		Scenario:   helperScenario,
	}
	_, err := Spawner{Role: launch.Child}.Spawn(context.Background(), inv)
	if !codes.Is(err, codes.NestedSpawn) {
		t.Fatalf("expected %s, got %v", codes.NestedSpawn, err)
	}
}

func TestSpawn_RejectsInvalidInvocationID(t *testing.T) {
	inv := helperInvocation(t, nil)
	inv.InvocationID = "inv/../1"
	_, err := Spawner{}.Spawn(context.Background(), inv)
	if !codes.Is(err, codes.Spawn) {
		t.Fatalf("expected %s, got %v", codes.Spawn, err)
	}
}

func TestSpawn_StartFailureIsSpawnError(t *testing.T) {
	inv := Invocation{
		Executable: filepath.Join(t.TempDir(), "does-not-exist"),
		Scenario:   helperScenario,
	}
	_, err := Spawner{}.Spawn(context.Background(), inv)
	if !codes.Is(err, codes.Spawn) {
		t.Fatalf("expected %s, got %v", codes.Spawn, err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected underlying os error to be wrapped, got %v", err)
	}
	if !strings.Contains(err.Error(), helperScenario) {
		t.Fatalf("expected scenario in message: %v", err)
	}
}

func TestSpawn_WritesTraceEvents(t *testing.T) {
	tw := &trace.Writer{Path: trace.PathIn(t.TempDir())}
	inv := helperInvocation(t, map[string]any{"action": "exit", "code": 7})
	o, err := Spawner{Trace: tw}.Spawn(context.Background(), inv)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	events, err := trace.Read(tw.Path)
	if err != nil {
		t.Fatalf("trace.Read: %v", err)
	}
	mine := trace.ForInvocation(events, o.InvocationID)
	if len(mine) != 2 {
		t.Fatalf("expected start+exit events, got %+v", mine)
	}
	if mine[0].Event != trace.EventSpawnStart || mine[1].Event != trace.EventSpawnExit {
		t.Fatalf("unexpected event order: %+v", mine)
	}
	exit := mine[1]
	if exit.Code == nil || *exit.Code != 7 || exit.Status != string(outcome.StatusExited) || exit.Reaped == nil || !*exit.Reaped {
		t.Fatalf("unexpected exit event: %+v", exit)
	}
}

func TestCommand_EnvAndArgs(t *testing.T) {
	inv := Invocation{
		Executable: "/bin/test-binary",
		Scenario:   "TestStore/reader side",
		Args:       bundle.MustOf(map[string]any{"mode": "reader"}),
		Env:        []string{"PATH=/bin", launch.EnvChild + "=stale", launch.EnvBundle + "=v1:"},
		ExtraEnv:   []string{"EXTRA=1", launch.EnvScenario + "=sneaky"},
		TestFlags:  []string{"-test.v=true"},
		TracePath:  "/tmp/t.jsonl",
	}
	cmd, err := Command(context.Background(), inv)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	wantArgs := []string{"/bin/test-binary", `-test.run=^TestStore$/^reader side$`, "-test.count=1", "-test.v=true"}
	if strings.Join(cmd.Args, "|") != strings.Join(wantArgs, "|") {
		t.Fatalf("unexpected args: %q", cmd.Args)
	}

	count := map[string]int{}
	for _, kv := range cmd.Env {
		k, _, _ := strings.Cut(kv, "=")
		count[k]++
	}
	for _, k := range []string{launch.EnvChild, launch.EnvScenario, launch.EnvBundle, "PATH", "EXTRA"} {
		if count[k] != 1 {
			t.Fatalf("expected exactly one %s in env, got %d: %q", k, count[k], cmd.Env)
		}
	}
	c, err := launch.Detect(launch.EnvLookup(cmd.Env))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c.Role != launch.Child || c.Scenario != inv.Scenario || c.TracePath != "/tmp/t.jsonl" || !c.Args.Equal(inv.Args) {
		t.Fatalf("unexpected child context: %+v", c)
	}
}

func TestCommand_ContextDoneKillsChild(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	cmd, err := Command(ctx, helperInvocation(t, map[string]any{"action": "sleep"}))
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := cmd.Wait(); err == nil {
		t.Fatalf("expected killed child to report an error")
	}
	if elapsed := time.Since(start); elapsed > 20*time.Second {
		t.Fatalf("child outlived its context: %s", elapsed)
	}
	if exit := proc.ExitOf(cmd.ProcessState); runtime.GOOS != "windows" && !exit.Signaled {
		t.Fatalf("expected a signaled exit, got %+v", exit)
	}
}

func TestCommand_RequiresExecutableAndScenario(t *testing.T) {
	if _, err := Command(context.Background(), Invocation{Scenario: "TestX"}); !codes.Is(err, codes.Spawn) {
		t.Fatalf("expected %s for missing executable, got %v", codes.Spawn, err)
	}
	if _, err := Command(context.Background(), Invocation{Executable: "/bin/x"}); !codes.Is(err, codes.Spawn) {
		t.Fatalf("expected %s for missing scenario, got %v", codes.Spawn, err)
	}
}

func TestRunPattern(t *testing.T) {
	cases := map[string]string{
		"TestX":          "^TestX$",
		"TestX/sub":      "^TestX$/^sub$",
		"TestX/a.b(c)+1": `^TestX$/^a\.b\(c\)\+1$`,
	}
	for in, want := range cases {
		if got := RunPattern(in); got != want {
			t.Fatalf("RunPattern(%q)=%q want %q", in, got, want)
		}
	}
}

func TestTailBuffer_KeepsLastBytes(t *testing.T) {
	tb := newTailBuffer(4)
	_, _ = tb.Write([]byte("ab"))
	if b, trunc := tb.Snapshot(); string(b) != "ab" || trunc {
		t.Fatalf("unexpected: %q %v", b, trunc)
	}
	_, _ = tb.Write([]byte("cdef"))
	if b, trunc := tb.Snapshot(); string(b) != "cdef" || !trunc {
		t.Fatalf("unexpected: %q %v", b, trunc)
	}
	_, _ = tb.Write([]byte("g"))
	if b, _ := tb.Snapshot(); string(b) != "defg" {
		t.Fatalf("unexpected: %q", b)
	}
	empty := newTailBuffer(4)
	if b, trunc := empty.Snapshot(); b != nil || trunc {
		t.Fatalf("unexpected empty snapshot: %q %v", b, trunc)
	}
}
