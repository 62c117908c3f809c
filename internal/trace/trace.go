// Package trace records spawn and child lifecycle events into a JSONL file
// that the parent and its children append to concurrently.
package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/marcohefti/multiproc-lab/internal/bundle"
	"github.com/marcohefti/multiproc-lab/internal/store"
)

const (
	SchemaV1 = 1
	FileName = "multiproc.trace.jsonl"

	EventSpawnStart = "spawn.start"
	EventSpawnExit  = "spawn.exit"
	EventChildEnter = "child.enter"
)

// DefaultLockWait bounds how long an append waits for another process.
const DefaultLockWait = 5 * time.Second

type EventV1 struct {
	V            int            `json:"v"`
	TS           string         `json:"ts"`
	Event        string         `json:"event"`
	Role         string         `json:"role"`
	Scenario     string         `json:"scenario"`
	InvocationID string         `json:"invocationId,omitempty"`
	PID          int            `json:"pid,omitempty"`
	ParentPID    int            `json:"parentPid,omitempty"`
	Args         *bundle.Bundle `json:"args,omitempty"`

	Status     string `json:"status,omitempty"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	Code       *int   `json:"code,omitempty"`
	Signal     string `json:"signal,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Reaped     *bool  `json:"reaped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Writer appends events to Path. A nil Writer or empty Path drops events.
type Writer struct {
	Path     string
	Now      func() time.Time
	LockWait time.Duration
}

func PathIn(dir string) string {
	return filepath.Join(dir, FileName)
}

func (w *Writer) Enabled() bool { return w != nil && w.Path != "" }

func (w *Writer) Append(ev EventV1) error {
	if !w.Enabled() {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	wait := w.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}
	ev.V = SchemaV1
	if ev.TS == "" {
		ev.TS = now().UTC().Format(time.RFC3339Nano)
	}
	if ev.PID == 0 {
		ev.PID = os.Getpid()
	}
	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return err
	}
	return store.WithDirLock(w.Path+".lock", wait, func() error {
		return store.AppendJSONL(w.Path, ev)
	})
}

// rawEventV1 mirrors EventV1 with Args left undecoded; bundles are encoded
// only in one direction.
type rawEventV1 struct {
	EventV1
	Args json.RawMessage `json:"args,omitempty"`
}

// Read returns every event in path in file order. Args are not decoded.
func Read(path string) ([]EventV1, error) {
	var out []EventV1
	err := store.ScanJSONL(path, func(line []byte) error {
		var ev rawEventV1
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		out = append(out, ev.EventV1)
		return nil
	})
	return out, err
}

func ForInvocation(events []EventV1, invocationID string) []EventV1 {
	var out []EventV1
	for _, ev := range events {
		if ev.InvocationID == invocationID {
			out = append(out, ev)
		}
	}
	return out
}
