package multiproc

import (
	"os"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/marcohefti/multiproc-lab/internal/launch"
)

// newLogger writes to the test log in the parent. In a child the parent is
// capturing stderr, so logs go there and show up in failure diagnostics.
func newLogger(t testing.TB, role launch.Role, level string) hclog.Logger {
	opts := &hclog.LoggerOptions{
		Name:  "multiproc",
		Level: hclog.LevelFromString(level),
	}
	if role == launch.Child {
		opts.Output = os.Stderr
		return hclog.New(opts).With("pid", os.Getpid())
	}
	opts.Output = testLogWriter{t: t}
	opts.DisableTime = true
	return hclog.New(opts)
}

type testLogWriter struct {
	t testing.TB
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
