package codes

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Usage           = "MPT_E_USAGE"
	IO              = "MPT_E_IO"
	MalformedBundle = "MPT_E_MALFORMED_BUNDLE"
	NestedSpawn     = "MPT_E_NESTED_SPAWN"
	Timeout         = "MPT_E_TIMEOUT"
	NonZeroExit     = "MPT_E_NONZERO_EXIT"
	Spawn           = "MPT_E_SPAWN"
	Crash           = "MPT_E_CRASH"
	LockTimeout     = "MPT_E_LOCK_TIMEOUT"
)

// Error is the typed failure carried through the orchestration layer.
// Code is one of the MPT_E_* constants; the other fields are optional detail.
type Error struct {
	Code     string
	Scenario string
	ExitCode int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Scenario != "" {
		fmt.Fprintf(&b, ": scenario %q", e.Scenario)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (code=%d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, &Error{Code: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func New(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code string, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func Is(err error, code string) bool {
	return errors.Is(err, &Error{Code: code})
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
