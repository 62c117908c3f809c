package cli

import (
	"fmt"

	"github.com/marcohefti/multiproc-lab/internal/codes"
)

const (
	codeUsage           = codes.Usage
	codeIO              = codes.IO
	codeMalformedBundle = codes.MalformedBundle
)

// fail prints err, prefixed with fallback when err carries no code of its
// own. Usage and bundle errors exit 2, everything else 1.
func (r Runner) fail(fallback string, err error) int {
	code := codes.CodeOf(err)
	if code == "" {
		code = fallback
		fmt.Fprintf(r.Stderr, "%s: %s\n", code, err.Error())
	} else {
		fmt.Fprintf(r.Stderr, "%s\n", err.Error())
	}
	if code == codeUsage || code == codeMalformedBundle {
		return 2
	}
	return 1
}
