package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/marcohefti/multiproc-lab/internal/bundle"
	"github.com/marcohefti/multiproc-lab/internal/codes"
	"github.com/marcohefti/multiproc-lab/internal/ids"
	"github.com/marcohefti/multiproc-lab/internal/launch"
	"github.com/marcohefti/multiproc-lab/internal/spawn"
)

func (r Runner) runEncode(args []string) int {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	yamlPath := fs.String("yaml", "", "read entries from a flat YAML mapping (- for stdin)")
	scenario := fs.String("scenario", "", "scenario id (required with --env)")
	envOut := fs.Bool("env", false, "print the full child environment instead of the bundle")
	format := fs.String("format", "sh", "env output format: sh|dotenv")
	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("encode: invalid flags")
	}
	if *help {
		printEncodeHelp(r.Stdout)
		return 0
	}
	if *envOut && strings.TrimSpace(*scenario) == "" {
		return r.failUsageHelp("encode: --env requires --scenario", printEncodeHelp)
	}

	entries := map[string]any{}
	if *yamlPath != "" {
		raw, err := r.readInput(*yamlPath)
		if err != nil {
			return r.fail(codeIO, err)
		}
		fromYAML, err := bundle.ParseYAML(raw)
		if err != nil {
			return r.fail(codeMalformedBundle, err)
		}
		for k, v := range fromYAML.Map() {
			entries[k] = v
		}
	}
	for _, arg := range fs.Args() {
		key, kindText, ok := strings.Cut(arg, "=")
		if !ok {
			return r.failUsage(fmt.Sprintf("encode: %q is not key=kind:value", arg))
		}
		v, err := bundle.ParseValue(kindText)
		if err != nil {
			return r.fail(codeMalformedBundle, codes.Wrap(codeMalformedBundle, err, fmt.Sprintf("key %q", key)))
		}
		entries[key] = v
	}
	b, err := bundle.Of(entries)
	if err != nil {
		return r.fail(codeMalformedBundle, err)
	}
	encoded := bundle.Encode(b)

	if !*envOut {
		if *jsonOut {
			return r.writeJSON(struct {
				OK      bool          `json:"ok"`
				Encoded string        `json:"encoded"`
				Bundle  bundle.Bundle `json:"bundle"`
			}{OK: true, Encoded: encoded, Bundle: b})
		}
		fmt.Fprintln(r.Stdout, encoded)
		return 0
	}

	invocationID, err := ids.NewInvocationID()
	if err != nil {
		return r.fail(codeIO, err)
	}
	environ := launch.ChildEnv(*scenario, invocationID, os.Getpid(), "", b)
	if *jsonOut {
		return r.writeJSON(struct {
			OK       bool              `json:"ok"`
			Scenario string            `json:"scenario"`
			RunFlag  string            `json:"runFlag"`
			Encoded  string            `json:"encoded"`
			Env      map[string]string `json:"env"`
		}{
			OK:       true,
			Scenario: *scenario,
			RunFlag:  "-test.run=" + spawn.RunPattern(*scenario),
			Encoded:  encoded,
			Env:      envMap(environ),
		})
	}
	txt, ok := formatEnv(environ, *format)
	if !ok {
		return r.failUsage("encode: invalid --format (expected sh|dotenv)")
	}
	fmt.Fprint(r.Stdout, txt)
	return 0
}

func (r Runner) readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(r.Stdin)
	}
	return os.ReadFile(path)
}

func printEncodeHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  mpt encode [--json] [--yaml FILE|-] [key=kind:value ...]
  mpt encode --env --scenario <TestName[/sub]> [--format sh|dotenv] [--json] [key=kind:value ...]

Flags come before entries. Kinds: s|string, i|int, f|float, b|bool.
Positional entries override YAML ones.
`)
}
