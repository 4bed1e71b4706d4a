// Package compileinfo reports how a binary was built, from the VCS stamps the
// Go toolchain embeds.
package compileinfo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
)

type CompileInfo struct {
	Tool       string
	Module     string
	Version    string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool
}

func (c CompileInfo) String() string {
	if c.GoVersion == "" {
		return fmt.Sprintf("%s: no build information available", c.Tool)
	}

	commit := c.Commit
	if commit == "" {
		commit = "unknown"
	}
	if c.Modified {
		commit += " (modified)"
	}

	out := fmt.Sprintf("%s from %s", c.Tool, c.Module)
	if c.Version != "" && c.Version != "(devel)" {
		out += " " + c.Version
	}

	return out + fmt.Sprintf(", built with %s at commit %s", c.GoVersion, commit) + commitTime(c.CommitTime)
}

func commitTime(t string) string {
	if t == "" {
		return ""
	}

	return " (" + t + ")"
}

func Get() CompileInfo {
	out := CompileInfo{Tool: filepath.Base(os.Args[0])}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}

	out.GoVersion = bi.GoVersion
	out.Module = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}

func Fprint(w io.Writer) {
	fmt.Fprintln(w, Get())
}
