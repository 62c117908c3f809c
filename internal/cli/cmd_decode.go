package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/marcohefti/multiproc-lab/internal/bundle"
)

func (r Runner) runDecode(args []string) int {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("decode: invalid flags")
	}
	if *help {
		printDecodeHelp(r.Stdout)
		return 0
	}
	if fs.NArg() != 1 {
		return r.failUsageHelp("decode: require exactly one <encoded> (or - for stdin)", printDecodeHelp)
	}

	encoded := fs.Arg(0)
	if encoded == "-" {
		raw, err := io.ReadAll(r.Stdin)
		if err != nil {
			return r.fail(codeIO, err)
		}
		encoded = strings.TrimSpace(string(raw))
	}
	b, err := bundle.Decode(encoded)
	if err != nil {
		return r.fail(codeMalformedBundle, err)
	}

	if *jsonOut {
		return r.writeJSON(struct {
			OK     bool          `json:"ok"`
			Bundle bundle.Bundle `json:"bundle"`
		}{OK: true, Bundle: b})
	}
	for _, k := range b.Keys() {
		v, _ := b.Get(k)
		fmt.Fprintf(r.Stdout, "%s=%s:%s\n", k, v.Kind(), v.Text())
	}
	return 0
}

func printDecodeHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  mpt decode [--json] <encoded|->

Prints one key=kind:value line per entry, sorted by key.
`)
}
