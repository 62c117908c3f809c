package contract

import (
	"github.com/marcohefti/multiproc-lab/internal/codes"
	"github.com/marcohefti/multiproc-lab/internal/config"
	"github.com/marcohefti/multiproc-lab/internal/launch"
	"github.com/marcohefti/multiproc-lab/internal/outcome"
	"github.com/marcohefti/multiproc-lab/internal/trace"
)

// Contract is the machine-readable surface printed by `mpt contract --json`.
type Contract struct {
	Name               string    `json:"name"`
	Version            string    `json:"version"`
	BundleWireVersion  string    `json:"bundleWireVersion"`
	ReservedKeyPrefix  string    `json:"reservedKeyPrefix"`
	TraceSchemaVersion int       `json:"traceSchemaVersion"`
	TraceFile          string    `json:"traceFile"`
	AbnormalExitCode   int       `json:"abnormalExitCode"`
	Env                []EnvKey  `json:"env"`
	Events             []Event   `json:"events"`
	Commands           []Command `json:"commands"`
	Errors             []Error   `json:"errors"`
}

type EnvKey struct {
	Name    string `json:"name"`
	Scope   string `json:"scope"` // launch|config
	Summary string `json:"summary"`
}

type Event struct {
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	RequiredFields []string `json:"requiredFields"`
}

type Command struct {
	ID      string `json:"id"`
	Usage   string `json:"usage"`
	Summary string `json:"summary"`
}

type Error struct {
	Code      string `json:"code"`
	Summary   string `json:"summary"`
	Retryable bool   `json:"retryable"`
}

func Build(version string) Contract {
	return Contract{
		Name:               "mpt",
		Version:            version,
		BundleWireVersion:  "v1",
		ReservedKeyPrefix:  "mpt.",
		TraceSchemaVersion: trace.SchemaV1,
		TraceFile:          trace.FileName,
		AbnormalExitCode:   outcome.Abnormal,
		Env: []EnvKey{
			{Name: launch.EnvChild, Scope: "launch", Summary: "Set to 1 in every spawned child; its absence means parent role."},
			{Name: launch.EnvScenario, Scope: "launch", Summary: "Full test name the child re-enters."},
			{Name: launch.EnvBundle, Scope: "launch", Summary: "Encoded argument bundle (v1 wire form)."},
			{Name: launch.EnvInvocationID, Scope: "launch", Summary: "Unique id of this spawn, shared with trace events."},
			{Name: launch.EnvParentPID, Scope: "launch", Summary: "Process id of the spawning parent."},
			{Name: launch.EnvTracePath, Scope: "launch", Summary: "Shared JSONL trace file, when tracing is enabled."},
			{Name: config.EnvChildTimeout, Scope: "config", Summary: "Child timeout as a Go duration or milliseconds."},
			{Name: config.EnvCaptureMaxBytes, Scope: "config", Summary: "Bytes of child stdout/stderr kept per stream."},
			{Name: config.EnvTraceDir, Scope: "config", Summary: "Directory for the shared trace file; empty disables tracing."},
			{Name: config.EnvLogLevel, Scope: "config", Summary: "hclog level: trace|debug|info|warn|error|off."},
		},
		Events: []Event{
			{Name: trace.EventSpawnStart, Role: "parent", RequiredFields: []string{"v", "ts", "event", "scenario", "invocationId", "pid"}},
			{Name: trace.EventChildEnter, Role: "child", RequiredFields: []string{"v", "ts", "event", "scenario", "invocationId", "pid", "parentPid"}},
			{Name: trace.EventSpawnExit, Role: "parent", RequiredFields: []string{"v", "ts", "event", "scenario", "invocationId", "status", "code", "reaped"}},
		},
		Commands: []Command{
			{ID: "contract", Usage: "mpt contract --json", Summary: "Print this surface contract."},
			{ID: "encode", Usage: "mpt encode [--yaml FILE] [--scenario ID] [--env] [key=kind:value ...]", Summary: "Encode a bundle, optionally as the child environment for a scenario."},
			{ID: "decode", Usage: "mpt decode [--json] <encoded>", Summary: "Decode and validate an encoded bundle."},
			{ID: "init", Usage: "mpt init [--path multiproc.yaml] [--json]", Summary: "Write a project config with the defaults."},
			{ID: "version", Usage: "mpt version", Summary: "Print version."},
		},
		Errors: []Error{
			{Code: codes.Usage, Summary: "Invalid command line usage.", Retryable: false},
			{Code: codes.IO, Summary: "Filesystem or stream failure.", Retryable: true},
			{Code: codes.MalformedBundle, Summary: "Bundle could not be built or decoded.", Retryable: false},
			{Code: codes.NestedSpawn, Summary: "A child tried to spawn its own child.", Retryable: false},
			{Code: codes.Timeout, Summary: "Child exceeded its timeout and was killed.", Retryable: false},
			{Code: codes.NonZeroExit, Summary: "Child exited with a non-zero status.", Retryable: false},
			{Code: codes.Spawn, Summary: "Child could not be started or reaped.", Retryable: false},
			{Code: codes.Crash, Summary: "Child was terminated by a signal.", Retryable: false},
			{Code: codes.LockTimeout, Summary: "Timed out waiting for a cross-process lock.", Retryable: true},
		},
	}
}
