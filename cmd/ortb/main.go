package main

import (
	"fmt"
	"os"

	ort "github.com/ortkit/ort-builder"
)

// Set via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := ort.NewRootCommand(ort.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ortb:", err)
		os.Exit(ort.ExitCode(err))
	}
}
