package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/marcohefti/multiproc-lab/internal/config"
	"github.com/marcohefti/multiproc-lab/internal/contract"
)

type Runner struct {
	Version string
	Stdout  io.Writer
	Stderr  io.Writer
	Stdin   io.Reader
}

func (r Runner) Run(args []string) int {
	if r.Stdout == nil {
		r.Stdout = os.Stdout
	}
	if r.Stderr == nil {
		r.Stderr = os.Stderr
	}
	if r.Stdin == nil {
		r.Stdin = os.Stdin
	}

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printRootHelp(r.Stdout)
		return 0
	}

	switch args[0] {
	case "contract":
		return r.runContract(args[1:])
	case "encode":
		return r.runEncode(args[1:])
	case "decode":
		return r.runDecode(args[1:])
	case "init":
		return r.runInit(args[1:])
	case "version":
		fmt.Fprintf(r.Stdout, "%s\n", r.Version)
		return 0
	default:
		fmt.Fprintf(r.Stderr, "%s: unknown command %q\n", codeUsage, args[0])
		printRootHelp(r.Stderr)
		return 2
	}
}

func (r Runner) runContract(args []string) int {
	fs := flag.NewFlagSet("contract", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // avoid flag package writing to stderr

	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("contract: invalid flags")
	}
	if *help {
		printContractHelp(r.Stdout)
		return 0
	}
	if !*jsonOut {
		return r.failUsageHelp("contract: require --json for stable output", printContractHelp)
	}
	return r.writeJSON(contract.Build(r.Version))
}

func (r Runner) runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	path := fs.String("path", config.DefaultProjectConfigPath, "project config path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("init: invalid flags")
	}
	if *help {
		printInitHelp(r.Stdout)
		return 0
	}
	if fs.NArg() != 0 {
		return r.failUsageHelp("init: unexpected arguments", printInitHelp)
	}

	res, err := config.InitProject(*path)
	if err != nil {
		return r.fail(codeIO, err)
	}
	if *jsonOut {
		return r.writeJSON(res)
	}
	if res.Created {
		fmt.Fprintf(r.Stdout, "wrote %s\n", res.ConfigPath)
	} else {
		fmt.Fprintf(r.Stdout, "%s already exists\n", res.ConfigPath)
	}
	return 0
}

func (r Runner) writeJSON(v any) int {
	enc := json.NewEncoder(r.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(r.Stderr, "%s: failed to encode json\n", codeIO)
		return 1
	}
	return 0
}

func (r Runner) failUsage(msg string) int {
	fmt.Fprintf(r.Stderr, "%s: %s\n", codeUsage, msg)
	return 2
}

// failUsageHelp keeps the code line first so callers can match on it.
func (r Runner) failUsageHelp(msg string, help func(io.Writer)) int {
	code := r.failUsage(msg)
	help(r.Stderr)
	return code
}

func printRootHelp(w io.Writer) {
	fmt.Fprint(w, `mpt (multiproc test harness)

Usage:
  mpt contract --json
  mpt encode [--yaml FILE] [--scenario ID] [--env] [key=kind:value ...]
  mpt decode [--json] <encoded>
  mpt init [--path multiproc.yaml] [--json]

Commands:
  contract   Print the harness surface contract (use --json).
  encode     Encode an argument bundle, or the full child environment with --env.
  decode     Decode and validate an encoded bundle.
  init       Write a project multiproc.yaml with the defaults.
  version    Print version.
`)
}

func printContractHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  mpt contract --json
`)
}

func printInitHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  mpt init [--path multiproc.yaml] [--json]
`)
}
