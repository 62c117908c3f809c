package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

const (
	EnvChildTimeout    = "MULTIPROC_CHILD_TIMEOUT"
	EnvCaptureMaxBytes = "MULTIPROC_CAPTURE_MAX_BYTES"
	EnvTraceDir        = "MULTIPROC_TRACE_DIR"
	EnvLogLevel        = "MULTIPROC_LOG_LEVEL"

	DefaultChildTimeout    = 30 * time.Second
	DefaultCaptureMaxBytes = int64(64 * 1024)
	DefaultLogLevel        = "info"
)

// Overrides are the highest-precedence layer: facade options or CLI flags.
// Zero fields do not override.
type Overrides struct {
	ChildTimeout    time.Duration
	CaptureMaxBytes int64
	TraceDir        string
	LogLevel        string
}

type Merged struct {
	ChildTimeout    time.Duration
	CaptureMaxBytes int64
	TraceDir        string
	LogLevel        string

	// Sources maps each field name to the layer that set it, for diagnostics.
	Sources map[string]string
}

func DefaultGlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".multiproc", "config.yaml"), nil
}

func LoadMerged(o Overrides) (Merged, error) {
	// Precedence:
	// 1) overrides (options/flags)
	// 2) env vars
	// 3) project config (multiproc.yaml)
	// 4) global config (~/.multiproc/config.yaml)
	// 5) defaults
	res := Merged{
		ChildTimeout:    DefaultChildTimeout,
		CaptureMaxBytes: DefaultCaptureMaxBytes,
		LogLevel:        DefaultLogLevel,
		Sources: map[string]string{
			"childTimeout":    "default",
			"captureMaxBytes": "default",
			"traceDir":        "default",
			"logLevel":        "default",
		},
	}

	globalPath, err := DefaultGlobalConfigPath()
	if err != nil {
		return Merged{}, err
	}
	globalCfg, hasGlobal, err := loadFile(globalPath)
	if err != nil {
		return Merged{}, err
	}
	if hasGlobal {
		if err := res.applyFile(globalCfg, globalPath); err != nil {
			return Merged{}, err
		}
	}

	projectCfg, hasProject, err := loadFile(DefaultProjectConfigPath)
	if err != nil {
		return Merged{}, err
	}
	if hasProject {
		if err := res.applyFile(projectCfg, DefaultProjectConfigPath); err != nil {
			return Merged{}, err
		}
	}

	if err := res.applyEnv(); err != nil {
		return Merged{}, err
	}

	if o.ChildTimeout > 0 {
		res.ChildTimeout = o.ChildTimeout
		res.Sources["childTimeout"] = "override"
	}
	if o.CaptureMaxBytes > 0 {
		res.CaptureMaxBytes = o.CaptureMaxBytes
		res.Sources["captureMaxBytes"] = "override"
	}
	if strings.TrimSpace(o.TraceDir) != "" {
		res.TraceDir = o.TraceDir
		res.Sources["traceDir"] = "override"
	}
	if strings.TrimSpace(o.LogLevel) != "" {
		lvl, err := normalizeLevel(o.LogLevel)
		if err != nil {
			return Merged{}, fmt.Errorf("override logLevel: %w", err)
		}
		res.LogLevel = lvl
		res.Sources["logLevel"] = "override"
	}
	return res, nil
}

func (m *Merged) applyFile(cfg FileConfigV1, source string) error {
	if strings.TrimSpace(cfg.ChildTimeout) != "" {
		d, err := parseTimeout(cfg.ChildTimeout)
		if err != nil {
			return fmt.Errorf("%s: childTimeout: %w", source, err)
		}
		m.ChildTimeout = d
		m.Sources["childTimeout"] = source
	}
	if cfg.CaptureMaxBytes < 0 {
		return fmt.Errorf("%s: captureMaxBytes must be > 0", source)
	}
	if cfg.CaptureMaxBytes > 0 {
		m.CaptureMaxBytes = cfg.CaptureMaxBytes
		m.Sources["captureMaxBytes"] = source
	}
	if strings.TrimSpace(cfg.TraceDir) != "" {
		m.TraceDir = strings.TrimSpace(cfg.TraceDir)
		m.Sources["traceDir"] = source
	}
	if strings.TrimSpace(cfg.LogLevel) != "" {
		lvl, err := normalizeLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("%s: logLevel: %w", source, err)
		}
		m.LogLevel = lvl
		m.Sources["logLevel"] = source
	}
	return nil
}

func (m *Merged) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvChildTimeout)); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChildTimeout, err)
		}
		m.ChildTimeout = d
		m.Sources["childTimeout"] = "env:" + EnvChildTimeout
	}
	if v := strings.TrimSpace(os.Getenv(EnvCaptureMaxBytes)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: expected a positive integer, got %q", EnvCaptureMaxBytes, v)
		}
		m.CaptureMaxBytes = n
		m.Sources["captureMaxBytes"] = "env:" + EnvCaptureMaxBytes
	}
	if v := strings.TrimSpace(os.Getenv(EnvTraceDir)); v != "" {
		m.TraceDir = v
		m.Sources["traceDir"] = "env:" + EnvTraceDir
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		lvl, err := normalizeLevel(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		m.LogLevel = lvl
		m.Sources["logLevel"] = "env:" + EnvLogLevel
	}
	return nil
}

// parseTimeout accepts Go durations ("45s") or bare milliseconds ("45000").
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("timeout must be > 0")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be > 0")
	}
	return d, nil
}

func normalizeLevel(raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if hclog.LevelFromString(v) == hclog.NoLevel {
		return "", fmt.Errorf("unknown log level %q (expected trace|debug|info|warn|error|off)", raw)
	}
	return v, nil
}

func loadFile(path string) (FileConfigV1, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfigV1{}, false, nil
		}
		return FileConfigV1{}, false, err
	}
	var cfg FileConfigV1
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return FileConfigV1{}, false, fmt.Errorf("%s: invalid yaml: %w", path, err)
	}
	if cfg.SchemaVersion != SchemaV1 {
		return FileConfigV1{}, false, fmt.Errorf("%s: unsupported schemaVersion=%d", path, cfg.SchemaVersion)
	}
	return cfg, true, nil
}
