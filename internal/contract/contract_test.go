package contract

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/marcohefti/multiproc-lab/internal/codes"
	"github.com/marcohefti/multiproc-lab/internal/launch"
)

func TestBuild_CoversReservedEnvAndCodes(t *testing.T) {
	c := Build("0.0.0-dev")

	env := map[string]bool{}
	for _, e := range c.Env {
		if env[e.Name] {
			t.Fatalf("duplicate env key %s", e.Name)
		}
		env[e.Name] = true
	}
	for _, k := range []string{launch.EnvChild, launch.EnvScenario, launch.EnvBundle, launch.EnvInvocationID, launch.EnvParentPID, launch.EnvTracePath} {
		if !env[k] {
			t.Fatalf("missing launch env key %s", k)
		}
	}

	errs := map[string]bool{}
	for _, e := range c.Errors {
		errs[e.Code] = true
	}
	for _, code := range []string{codes.Usage, codes.IO, codes.MalformedBundle, codes.NestedSpawn, codes.Timeout, codes.NonZeroExit, codes.Spawn, codes.Crash, codes.LockTimeout} {
		if !errs[code] {
			t.Fatalf("missing error code %s", code)
		}
	}
	if c.AbnormalExitCode != 65536 {
		t.Fatalf("unexpected abnormal exit code %d", c.AbnormalExitCode)
	}
}

func TestBuild_JSONIsStrictlyDecodable(t *testing.T) {
	b, err := json.Marshal(Build("1.2.3"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var got Contract
	if err := dec.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != "1.2.3" || len(got.Commands) == 0 {
		t.Fatalf("unexpected contract: %+v", got)
	}
}

func TestBuild_ChildFailuresAreNotRetryable(t *testing.T) {
	fatal := map[string]bool{
		codes.Timeout:     true,
		codes.Spawn:       true,
		codes.Crash:       true,
		codes.NonZeroExit: true,
		codes.NestedSpawn: true,
	}
	for _, e := range Build("0.0.0-dev").Errors {
		if fatal[e.Code] && e.Retryable {
			t.Fatalf("%s is published as retryable", e.Code)
		}
	}
}
