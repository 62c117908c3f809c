// Package multiproc is the test-case surface for scenarios that need a
// second operating-system process. A scenario asks for its role; as parent
// it hands a bundle to RunChildAndWait (or RequireChildSuccess), which
// re-enters the same test in a fresh copy of the test binary. As child the
// same test body runs again and reads the bundle from Args.
//
//	func TestWriterExcludesReader(t *testing.T) {
//		c := multiproc.New(t)
//		if c.IsParent() {
//			c.RequireChildSuccess(map[string]any{"path": path, "mode": "writer"})
//			return
//		}
//		path, _ := c.Args().String("path")
//		...
//	}
package multiproc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/marcohefti/multiproc-lab/internal/bundle"
	"github.com/marcohefti/multiproc-lab/internal/codes"
	"github.com/marcohefti/multiproc-lab/internal/config"
	"github.com/marcohefti/multiproc-lab/internal/launch"
	"github.com/marcohefti/multiproc-lab/internal/outcome"
	"github.com/marcohefti/multiproc-lab/internal/spawn"
	"github.com/marcohefti/multiproc-lab/internal/trace"
)

type Case struct {
	t        testing.TB
	launch   launch.Context
	cfg      config.Merged
	log      hclog.Logger
	spawner  spawn.Spawner
	scenario string

	executable string
	dir        string
	env        []string
	testFlags  []string
}

// New derives the process role once and prepares the spawner. Setup errors
// fail the test immediately.
func New(t testing.TB, opts ...Option) *Case {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	lc := o.launch
	if lc == nil {
		detected, err := launch.FromProcess()
		if err != nil {
			t.Fatalf("multiproc: detect role: %v", err)
		}
		lc = &detected
	}
	cfg, err := config.LoadMerged(o.overrides)
	if err != nil {
		t.Fatalf("multiproc: load config: %v", err)
	}

	c := &Case{
		t:        t,
		launch:   *lc,
		cfg:      cfg,
		scenario: o.scenario,
		dir:      o.dir,
		env:      o.env,
	}
	if c.scenario == "" {
		c.scenario = t.Name()
	}
	if c.launch.Role == launch.Child {
		c.scenario = c.launch.Scenario
	}

	c.log = o.logger
	if c.log == nil {
		c.log = newLogger(t, c.launch.Role, cfg.LogLevel)
	}
	c.log = c.log.With("role", c.launch.Role.String())

	tw := c.traceWriter()
	c.spawner = spawn.Spawner{
		Role:            c.launch.Role,
		Timeout:         cfg.ChildTimeout,
		CaptureMaxBytes: cfg.CaptureMaxBytes,
		Stdout:          o.stdout,
		Stderr:          o.stderr,
		Logger:          c.log,
		Trace:           tw,
	}

	if c.launch.Role == launch.Child {
		c.enterChild(t, tw)
		return c
	}

	c.executable = o.executable
	if c.executable == "" {
		exe, err := os.Executable()
		if err != nil {
			t.Fatalf("multiproc: resolve test executable: %v", err)
		}
		c.executable = exe
	}
	if testing.Verbose() {
		c.testFlags = append(c.testFlags, "-test.v=true")
	}
	return c
}

func (c *Case) traceWriter() *trace.Writer {
	if c.launch.Role == launch.Child {
		if c.launch.TracePath == "" {
			return nil
		}
		return &trace.Writer{Path: c.launch.TracePath}
	}
	if c.cfg.TraceDir == "" {
		return nil
	}
	dir, err := filepath.Abs(c.cfg.TraceDir)
	if err != nil {
		dir = c.cfg.TraceDir
	}
	return &trace.Writer{Path: trace.PathIn(dir)}
}

func (c *Case) enterChild(t testing.TB, tw *trace.Writer) {
	if name := t.Name(); name != c.launch.Scenario && !strings.HasPrefix(c.launch.Scenario, name+"/") {
		c.log.Warn("child test does not match launched scenario", "test", name, "scenario", c.launch.Scenario)
	}
	c.log.Debug("child entered", "scenario", c.launch.Scenario, "invocation", c.launch.InvocationID, "parent_pid", c.launch.ParentPID)
	args := c.launch.Args
	if err := tw.Append(trace.EventV1{
		Event:        trace.EventChildEnter,
		Role:         launch.Child.String(),
		Scenario:     c.launch.Scenario,
		InvocationID: c.launch.InvocationID,
		ParentPID:    c.launch.ParentPID,
		Args:         &args,
	}); err != nil {
		c.log.Warn("failed to append trace event", "error", err)
	}
}

func (c *Case) Role() launch.Role { return c.launch.Role }
func (c *Case) IsParent() bool { return c.launch.Role == launch.Parent }
func (c *Case) IsChild() bool { return c.launch.Role == launch.Child }

func (c *Case) Args() bundle.Bundle { return c.launch.Args }

func (c *Case) Scenario() string { return c.scenario }

func (c *Case) InvocationID() string { return c.launch.InvocationID }

func (c *Case) Config() config.Merged { return c.cfg }

func (c *Case) Logger() hclog.Logger { return c.log }

// Spawn runs one child for this scenario and returns the full outcome. It
// fails with MPT_E_NESTED_SPAWN, without starting anything, in a child.
func (c *Case) Spawn(args bundle.Bundle) (outcome.Outcome, error) {
	if c.IsChild() {
		return outcome.Outcome{}, &codes.Error{
			Code:     codes.NestedSpawn,
			Scenario: c.scenario,
			Message:  "runChildAndWait called from a child process",
		}
	}
	return c.spawner.Spawn(c.t.Context(), spawn.Invocation{
		Executable: c.executable,
		Scenario:   c.scenario,
		Args:       args,
		Dir:        c.dir,
		ExtraEnv:   c.env,
		TestFlags:  c.testFlags,
	})
}

// RunChildAndWait spawns the child, blocks until it is done and returns the
// reduced code: 0 on success, the child's exit status on a scenario failure,
// outcome.Abnormal on a crash, kill or timeout. A non-nil error means no
// outcome exists; the code is then outcome.Abnormal too.
func (c *Case) RunChildAndWait(args bundle.Bundle) (int, error) {
	o, err := c.Spawn(args)
	if err != nil {
		return outcome.Abnormal, err
	}
	code := outcome.Reduce(o)
	if code != outcome.Success {
		c.log.Info("child did not succeed", "scenario", c.scenario, "status", o.Status, "code", code)
	}
	return code, nil
}

// RequireChildSuccess builds a bundle from args, runs the child and fails the
// test unless it returned 0. The failure message carries the scenario, the
// code and the tail of the child's output.
func (c *Case) RequireChildSuccess(args map[string]any) {
	c.t.Helper()
	b, err := bundle.Of(args)
	if err != nil {
		c.t.Fatalf("multiproc: %v", err)
	}
	o, err := c.Spawn(b)
	if err != nil {
		c.t.Fatalf("multiproc: %v", err)
	}
	if err := o.Err(); err != nil {
		c.t.Fatalf("multiproc: tests in child process failed: %v\n%s", err, o.Describe())
	}
}

func (c *Case) Logf(format string, args ...any) {
	c.log.Info(fmt.Sprintf(format, args...))
}
