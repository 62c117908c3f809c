// Package spawn re-executes the running test binary for one named scenario
// in child role and supervises it until it exits or runs out of time.
package spawn

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/marcohefti/multiproc-lab/internal/bundle"
	"github.com/marcohefti/multiproc-lab/internal/codes"
	"github.com/marcohefti/multiproc-lab/internal/config"
	"github.com/marcohefti/multiproc-lab/internal/ids"
	"github.com/marcohefti/multiproc-lab/internal/launch"
	"github.com/marcohefti/multiproc-lab/internal/outcome"
	"github.com/marcohefti/multiproc-lab/internal/proc"
	"github.com/marcohefti/multiproc-lab/internal/trace"
)

// waitDelay bounds the wait after a kill, for the child to exit and for its
// pipes to drain.
const waitDelay = 2 * time.Second

// Invocation is one spawn request. It is owned by a single Spawn call.
type Invocation struct {
	// Executable is the test binary to re-enter, usually os.Executable().
	Executable string
	// Scenario is the full test name (t.Name()) the child must run.
	Scenario string
	Args     bundle.Bundle

	Dir string
	// Env is the base environment; nil inherits os.Environ(). Reserved keys
	// are always stripped from it.
	Env      []string
	ExtraEnv []string
	// TestFlags are appended after -test.run and -test.count.
	TestFlags []string

	InvocationID string
	TracePath    string
}

// Spawner launches and supervises children. The zero value is usable and
// applies the config package defaults.
type Spawner struct {
	// Role of the calling process. A child may not spawn.
	Role            launch.Role
	Timeout         time.Duration
	CaptureMaxBytes int64

	// Stdout and Stderr, when set, receive the child's output live in
	// addition to the bounded tails kept in the outcome.
	Stdout io.Writer
	Stderr io.Writer

	Logger hclog.Logger
	Trace  *trace.Writer
	Now    func() time.Time
}

// RunPattern anchors every subtest segment of scenario so -test.run selects
// exactly that test and nothing that merely shares a prefix.
func RunPattern(scenario string) string {
	parts := strings.Split(scenario, "/")
	for i, p := range parts {
		parts[i] = "^" + regexp.QuoteMeta(p) + "$"
	}
	return strings.Join(parts, "/")
}

// Command builds the exec.Cmd for inv without starting it. When ctx is done
// the whole process group is killed.
func Command(ctx context.Context, inv Invocation) (*exec.Cmd, error) {
	if strings.TrimSpace(inv.Executable) == "" {
		return nil, codes.New(codes.Spawn, "missing executable")
	}
	if strings.TrimSpace(inv.Scenario) == "" {
		return nil, codes.New(codes.Spawn, "missing scenario")
	}
	argv := []string{"-test.run=" + RunPattern(inv.Scenario), "-test.count=1"}
	argv = append(argv, inv.TestFlags...)

	base := inv.Env
	if base == nil {
		base = os.Environ()
	}
	env := launch.StripReserved(base)
	env = append(env, launch.StripReserved(inv.ExtraEnv)...)
	env = append(env, launch.ChildEnv(inv.Scenario, inv.InvocationID, os.Getpid(), inv.TracePath, inv.Args)...)

	cmd := exec.CommandContext(ctx, inv.Executable, argv...)
	cmd.Dir = inv.Dir
	cmd.Env = env
	cmd.WaitDelay = waitDelay
	cmd.Cancel = func() error { return proc.Kill(cmd) }
	proc.Isolate(cmd)
	return cmd, nil
}

// Spawn starts the child described by inv and blocks until it exits, the
// timeout elapses or ctx is done. A timeout or cancellation kills the child
// and is reported through the outcome, not the error. The error is reserved
// for requests that could not run at all.
func (s Spawner) Spawn(ctx context.Context, inv Invocation) (outcome.Outcome, error) {
	log := s.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = config.DefaultChildTimeout
	}
	maxBytes := s.CaptureMaxBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultCaptureMaxBytes
	}

	if s.Role == launch.Child {
		return outcome.Outcome{}, &codes.Error{
			Code:     codes.NestedSpawn,
			Scenario: inv.Scenario,
			Message:  "a child process cannot spawn further children",
		}
	}
	if inv.InvocationID == "" {
		id, err := ids.NewInvocationID()
		if err != nil {
			return outcome.Outcome{}, codes.Wrap(codes.Spawn, err, "generate invocation id")
		}
		inv.InvocationID = id
	} else if !ids.IsValidInvocationID(inv.InvocationID) {
		return outcome.Outcome{}, codes.Newf(codes.Spawn, "invalid invocation id %q", inv.InvocationID)
	}
	if inv.TracePath == "" && s.Trace.Enabled() {
		inv.TracePath = s.Trace.Path
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd, err := Command(runCtx, inv)
	if err != nil {
		var e *codes.Error
		if errors.As(err, &e) {
			e.Scenario = inv.Scenario
		}
		return outcome.Outcome{}, err
	}
	outTail := newTailBuffer(maxBytes)
	errTail := newTailBuffer(maxBytes)
	cmd.Stdout = teeTo(outTail, s.Stdout)
	cmd.Stderr = teeTo(errTail, s.Stderr)

	log = log.With("scenario", inv.Scenario, "invocation", inv.InvocationID)
	var killed atomic.Bool
	cmd.Cancel = func() error {
		killed.Store(true)
		if ctx.Err() != nil {
			log.Warn("caller canceled, killing child process group", "pid", cmd.Process.Pid)
		} else {
			log.Warn("child exceeded timeout, killing process group", "pid", cmd.Process.Pid, "timeout", timeout)
		}
		return proc.Kill(cmd)
	}

	start := now()
	if err := cmd.Start(); err != nil {
		log.Error("failed to start child", "executable", inv.Executable, "error", err)
		return outcome.Outcome{}, &codes.Error{
			Code:     codes.Spawn,
			Scenario: inv.Scenario,
			Message:  "start " + inv.Executable,
			Err:      err,
		}
	}
	pid := cmd.Process.Pid
	log.Debug("child started", "pid", pid, "timeout", timeout)
	s.appendTrace(log, trace.EventV1{
		Event:        trace.EventSpawnStart,
		Role:         launch.Parent.String(),
		Scenario:     inv.Scenario,
		InvocationID: inv.InvocationID,
		Args:         &inv.Args,
	})

	waitErr := cmd.Wait()

	o := outcome.Outcome{
		Scenario:     inv.Scenario,
		InvocationID: inv.InvocationID,
		PID:          pid,
		Status:       outcome.StatusExited,
		Duration:     now().Sub(start),
		Timeout:      timeout,
	}
	o.Stdout, o.StdoutTruncated = outTail.Snapshot()
	o.Stderr, o.StderrTruncated = errTail.Snapshot()

	if cmd.ProcessState == nil {
		o.ExitCode = -1
		err := &codes.Error{Code: codes.Spawn, Scenario: inv.Scenario, Message: "child was not reaped", Err: waitErr}
		log.Error("child was not reaped", "pid", pid, "error", err)
		return o, err
	}

	exit := proc.ExitOf(cmd.ProcessState)
	o.ExitCode = exit.Code
	o.Signal = exit.Signal
	switch {
	case killed.Load() && ctx.Err() != nil:
		o.Status = outcome.StatusCanceled
	case killed.Load():
		o.Status = outcome.StatusTimeout
	case exit.Signaled:
		o.Status = outcome.StatusSignaled
	}
	if waitErr != nil && !isExitError(waitErr) && !killed.Load() {
		// Pipe drain cut short by WaitDelay, or a failed kill; the exit status is still valid.
		log.Warn("child supervision reported errors", "pid", pid, "error", waitErr)
	}
	o.Reaped = !proc.Alive(pid)

	code := outcome.Reduce(o)
	exitCode := o.ExitCode
	gone := o.Reaped
	s.appendTrace(log, trace.EventV1{
		Event:        trace.EventSpawnExit,
		Role:         launch.Parent.String(),
		Scenario:     inv.Scenario,
		InvocationID: inv.InvocationID,
		Status:       string(o.Status),
		ExitCode:     &exitCode,
		Code:         &code,
		Signal:       o.Signal,
		DurationMs:   o.Duration.Milliseconds(),
		Reaped:       &gone,
	})
	log.Debug("child finished", "pid", pid, "status", o.Status, "code", code, "duration", o.Duration)
	return o, nil
}

func (s Spawner) appendTrace(log hclog.Logger, ev trace.EventV1) {
	if err := s.Trace.Append(ev); err != nil {
		log.Warn("failed to append trace event", "event", ev.Event, "error", err)
	}
}

func isExitError(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}

func teeTo(tail io.Writer, live io.Writer) io.Writer {
	if live == nil {
		return tail
	}
	return io.MultiWriter(tail, live)
}
