// Package compileinfoprint is imported by the commands for its side effect of
// printing build information to stderr.
package compileinfoprint

import (
	"os"

	"github.com/carbocation/scrnaseq/compileinfo"
)

func init() {
	compileinfo.Fprint(os.Stderr)
}
