package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcohefti/multiproc-lab/internal/codes"
	"github.com/marcohefti/multiproc-lab/internal/proc"
)

const (
	// DefaultStaleAfter is how old a lock dir must be before a dead owner
	// lets another process break it.
	DefaultStaleAfter = 2 * time.Minute

	defaultPoll   = 25 * time.Millisecond
	ownerFileName = "owner.json"
)

// DirLock is a host-wide mutex implemented as an exclusive mkdir of Path.
// Parent and child test processes use it to serialize appends to shared files.
type DirLock struct {
	Path string
	// StaleAfter and Poll default to DefaultStaleAfter and 25ms.
	StaleAfter time.Duration
	Poll       time.Duration
	Now        func() time.Time
}

type lockOwnerV1 struct {
	V         int    `json:"v"`
	PID       int    `json:"pid"`
	StartedAt string `json:"startedAt"`
}

func WithDirLock(lockDir string, wait time.Duration, fn func() error) error {
	release, err := AcquireDirLock(lockDir, wait)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()
	return fn()
}

func AcquireDirLock(lockDir string, wait time.Duration) (func() error, error) {
	return DirLock{Path: lockDir}.Acquire(wait)
}

func IsLockTimeout(err error) bool {
	return codes.Is(err, codes.LockTimeout)
}

func LockOwnerPID(lockDir string) (int, bool) {
	owner, ok := readOwner(lockDir)
	return owner.PID, ok
}

// Acquire takes the lock, breaking it first when it is stale and its
// recorded owner is gone. The timeout error names the holder pid if known.
func (l DirLock) Acquire(wait time.Duration) (func() error, error) {
	now := l.now()
	deadline := now().Add(wait)
	for {
		err := os.Mkdir(l.Path, 0o755)
		if err == nil {
			l.writeOwner(now())
			return func() error { return os.RemoveAll(l.Path) }, nil
		}
		if !os.IsExist(err) {
			return nil, codes.Wrap(codes.IO, err, "create lock dir")
		}

		if l.breakable(now()) {
			_ = os.RemoveAll(l.Path)
			continue
		}
		if now().After(deadline) {
			return nil, l.timeoutError()
		}
		time.Sleep(l.poll())
	}
}

func (l DirLock) writeOwner(at time.Time) {
	owner := lockOwnerV1{V: 1, PID: os.Getpid(), StartedAt: at.UTC().Format(time.RFC3339Nano)}
	if b, err := json.Marshal(owner); err == nil {
		_ = os.WriteFile(filepath.Join(l.Path, ownerFileName), b, 0o644)
	}
}

// breakable is true once the lock dir is older than StaleAfter and its
// owner, when one is recorded, is no longer alive.
func (l DirLock) breakable(now time.Time) bool {
	info, err := os.Stat(l.Path)
	if err != nil || now.Sub(info.ModTime()) <= l.staleAfter() {
		return false
	}
	owner, ok := readOwner(l.Path)
	return !ok || !proc.Alive(owner.PID)
}

func (l DirLock) timeoutError() error {
	e := codes.Newf(codes.LockTimeout, "timeout acquiring lock: %s", l.Path)
	if pid, ok := LockOwnerPID(l.Path); ok {
		e.Message += fmt.Sprintf(" (held by pid %d)", pid)
	}
	return e
}

func (l DirLock) now() func() time.Time {
	if l.Now != nil {
		return l.Now
	}
	return time.Now
}

func (l DirLock) staleAfter() time.Duration {
	if l.StaleAfter > 0 {
		return l.StaleAfter
	}
	return DefaultStaleAfter
}

func (l DirLock) poll() time.Duration {
	if l.Poll > 0 {
		return l.Poll
	}
	return defaultPoll
}

func readOwner(lockDir string) (lockOwnerV1, bool) {
	raw, err := os.ReadFile(filepath.Join(lockDir, ownerFileName))
	if err != nil {
		return lockOwnerV1{}, false
	}
	var owner lockOwnerV1
	if err := json.Unmarshal(raw, &owner); err != nil || owner.PID <= 0 {
		return lockOwnerV1{}, false
	}
	return owner, true
}
