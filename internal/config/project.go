package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcohefti/multiproc-lab/internal/store"
	"gopkg.in/yaml.v3"
)

const (
	SchemaV1                 = 1
	DefaultProjectConfigPath = "multiproc.yaml"
)

// FileConfigV1 is the shape of both the project and the global config file.
type FileConfigV1 struct {
	SchemaVersion   int    `yaml:"schemaVersion"`
	ChildTimeout    string `yaml:"childTimeout,omitempty"`
	CaptureMaxBytes int64  `yaml:"captureMaxBytes,omitempty"`
	TraceDir        string `yaml:"traceDir,omitempty"`
	LogLevel        string `yaml:"logLevel,omitempty"`
}

type InitResult struct {
	OK         bool   `json:"ok"`
	ConfigPath string `json:"configPath"`
	Created    bool   `json:"created"`
}

func InitProject(configPath string) (*InitResult, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = DefaultProjectConfigPath
	}

	if _, err := os.Stat(configPath); err == nil {
		if _, _, err := loadFile(configPath); err != nil {
			return nil, fmt.Errorf("existing config: %w", err)
		}
		return &InitResult{OK: true, ConfigPath: configPath}, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg := FileConfigV1{
		SchemaVersion:   SchemaV1,
		ChildTimeout:    DefaultChildTimeout.String(),
		CaptureMaxBytes: DefaultCaptureMaxBytes,
		LogLevel:        DefaultLogLevel,
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.WriteFileAtomic(configPath, raw); err != nil {
		return nil, err
	}
	return &InitResult{OK: true, ConfigPath: configPath, Created: true}, nil
}
