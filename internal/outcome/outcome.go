// Package outcome reduces a finished child process to the integer code the
// parent asserts on.
package outcome

import (
	"fmt"
	"strings"
	"time"

	"github.com/marcohefti/multiproc-lab/internal/codes"
)

const (
	// Success is the only code a passing scenario produces.
	Success = 0
	// Abnormal marks a child that was killed, crashed or timed out. It sits
	// outside the 0..255 range a process can exit with on POSIX systems.
	Abnormal = 1 << 16

	maxExitStatus = 255
)

type Status string

const (
	StatusExited   Status = "exited"
	StatusSignaled Status = "signaled"
	StatusTimeout  Status = "timeout"
	StatusCanceled Status = "canceled"
)

// Outcome is the raw result of waiting on one child.
type Outcome struct {
	Scenario     string
	InvocationID string
	PID          int

	Status   Status
	ExitCode int
	Signal   string
	Duration time.Duration
	Timeout  time.Duration

	// Reaped is true when the pid was confirmed gone after waiting.
	Reaped bool

	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
}

// Reduce maps an outcome to its code: a normal exit passes its status
// through, everything else is Abnormal. Windows exit codes are 32 bits wide,
// so anything above maxExitStatus (NTSTATUS crash codes included) is Abnormal
// too and can never be mistaken for the sentinel.
func Reduce(o Outcome) int {
	if o.Status != StatusExited || o.ExitCode < 0 || o.ExitCode > maxExitStatus {
		return Abnormal
	}
	return o.ExitCode
}

func (o Outcome) OK() bool { return Reduce(o) == Success }

func (o Outcome) Err() error {
	code := Reduce(o)
	switch {
	case code == Success:
		return nil
	case o.Status == StatusTimeout:
		return &codes.Error{
			Code:     codes.Timeout,
			Scenario: o.Scenario,
			ExitCode: code,
			Message:  fmt.Sprintf("child did not exit within %s and was killed", o.Timeout),
		}
	case o.Status == StatusExited && code != Abnormal:
		return &codes.Error{
			Code:     codes.NonZeroExit,
			Scenario: o.Scenario,
			ExitCode: code,
			Message:  "child scenario reported failure",
		}
	default:
		msg := "child terminated abnormally"
		switch {
		case o.Status == StatusCanceled:
			msg = "child killed after caller cancellation"
		case o.Signal != "":
			msg = "child terminated by " + o.Signal
		}
		return &codes.Error{
			Code:     codes.Crash,
			Scenario: o.Scenario,
			ExitCode: code,
			Message:  msg,
		}
	}
}

func (o Outcome) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario=%q status=%s code=%d", o.Scenario, o.Status, Reduce(o))
	if o.Signal != "" {
		fmt.Fprintf(&b, " signal=%s", o.Signal)
	}
	if o.PID > 0 {
		fmt.Fprintf(&b, " pid=%d", o.PID)
	}
	fmt.Fprintf(&b, " duration=%s", o.Duration.Round(time.Millisecond))
	if tail := strings.TrimSpace(string(o.Stderr)); tail != "" {
		b.WriteString("\n--- child stderr")
		if o.StderrTruncated {
			b.WriteString(" (tail)")
		}
		b.WriteString(" ---\n")
		b.WriteString(tail)
	}
	if tail := strings.TrimSpace(string(o.Stdout)); tail != "" {
		b.WriteString("\n--- child stdout")
		if o.StdoutTruncated {
			b.WriteString(" (tail)")
		}
		b.WriteString(" ---\n")
		b.WriteString(tail)
	}
	return b.String()
}
