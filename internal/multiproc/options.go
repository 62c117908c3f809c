package multiproc

import (
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/marcohefti/multiproc-lab/internal/config"
	"github.com/marcohefti/multiproc-lab/internal/launch"
)

type options struct {
	overrides  config.Overrides
	executable string
	dir        string
	env        []string
	scenario   string
	logger     hclog.Logger
	launch     *launch.Context
	stdout     io.Writer
	stderr     io.Writer
}

type Option func(*options)

// WithTimeout bounds each child's lifetime. It beats every config layer.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.overrides.ChildTimeout = d }
}

func WithCaptureMaxBytes(n int64) Option {
	return func(o *options) { o.overrides.CaptureMaxBytes = n }
}

// WithTraceDir enables the shared JSONL trace in dir. A child always uses
// the trace path its parent handed down instead.
func WithTraceDir(dir string) Option {
	return func(o *options) { o.overrides.TraceDir = dir }
}

func WithLogLevel(level string) Option {
	return func(o *options) { o.overrides.LogLevel = level }
}

func WithExecutable(path string) Option {
	return func(o *options) { o.executable = path }
}

func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithEnv adds KEY=VALUE entries to the child environment. Reserved MPT_*
// keys are dropped.
func WithEnv(kv ...string) Option {
	return func(o *options) { o.env = append(o.env, kv...) }
}

func WithScenario(id string) Option {
	return func(o *options) { o.scenario = id }
}

func WithLogger(l hclog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLaunchContext replaces role detection, mostly for tests of the facade itself.
func WithLaunchContext(c launch.Context) Option {
	return func(o *options) { o.launch = &c }
}

func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}
