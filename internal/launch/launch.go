// Package launch decides whether the current process is the originating
// parent or a child started by the spawner, and recovers the bundle a child
// was launched with.
package launch

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/marcohefti/multiproc-lab/internal/bundle"
	"github.com/marcohefti/multiproc-lab/internal/codes"
)

// Reserved control keys. Bundle keys travel inside EnvBundle and can never
// collide with these.
const (
	EnvPrefix       = "MPT_"
	EnvChild        = EnvPrefix + "CHILD"
	EnvScenario     = EnvPrefix + "SCENARIO"
	EnvBundle       = EnvPrefix + "BUNDLE"
	EnvInvocationID = EnvPrefix + "INVOCATION_ID"
	EnvParentPID    = EnvPrefix + "PARENT_PID"
	EnvTracePath    = EnvPrefix + "TRACE_PATH"

	childMarkerValue = "1"
)

type Role int

const (
	Parent Role = iota
	Child
)

func (r Role) String() string {
	if r == Child {
		return "child"
	}
	return "parent"
}

// Context is what a process learns about itself at startup. It is derived
// once and treated as read-only afterwards.
type Context struct {
	Role         Role
	Scenario     string
	InvocationID string
	ParentPID    int
	TracePath    string
	Args         bundle.Bundle
}

// LookupFunc has the shape of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func FromProcess() (Context, error) {
	return Detect(os.LookupEnv)
}

// Detect reads the reserved keys through lookup. A missing or empty marker is
// a parent with an empty bundle; anything else must be a complete child
// launch or it is MPT_E_MALFORMED_BUNDLE.
func Detect(lookup LookupFunc) (Context, error) {
	marker, _ := lookup(EnvChild)
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return Context{Role: Parent}, nil
	}
	if marker != childMarkerValue {
		return Context{}, codes.Newf(codes.MalformedBundle, "%s=%q (expected %q)", EnvChild, marker, childMarkerValue)
	}

	scenario, _ := lookup(EnvScenario)
	if strings.TrimSpace(scenario) == "" {
		return Context{}, codes.Newf(codes.MalformedBundle, "child marker present but %s is empty", EnvScenario)
	}
	encoded, ok := lookup(EnvBundle)
	if !ok {
		return Context{}, codes.Newf(codes.MalformedBundle, "child marker present but %s is missing", EnvBundle)
	}
	args, err := bundle.Decode(encoded)
	if err != nil {
		return Context{}, err
	}

	c := Context{
		Role:     Child,
		Scenario: scenario,
		Args:     args,
	}
	c.InvocationID, _ = lookup(EnvInvocationID)
	c.TracePath, _ = lookup(EnvTracePath)
	if raw, ok := lookup(EnvParentPID); ok && raw != "" {
		pid, err := strconv.Atoi(raw)
		if err != nil || pid <= 0 {
			return Context{}, codes.Newf(codes.MalformedBundle, "%s=%q is not a pid", EnvParentPID, raw)
		}
		c.ParentPID = pid
	}
	return c, nil
}

// ChildEnv renders the reserved keys for a child launch as KEY=VALUE lines,
// sorted for stable output.
func ChildEnv(scenario, invocationID string, parentPID int, tracePath string, args bundle.Bundle) []string {
	env := map[string]string{
		EnvChild:    childMarkerValue,
		EnvScenario: scenario,
		EnvBundle:   bundle.Encode(args),
	}
	if invocationID != "" {
		env[EnvInvocationID] = invocationID
	}
	if parentPID > 0 {
		env[EnvParentPID] = strconv.Itoa(parentPID)
	}
	if tracePath != "" {
		env[EnvTracePath] = tracePath
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

func StripReserved(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		if strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func MapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func EnvLookup(environ []string) LookupFunc {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return MapLookup(m)
}
