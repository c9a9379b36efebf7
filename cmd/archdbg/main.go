package main

import (
	"os"

	"github.com/archdbg/archdbg/cmd/archdbg/cmds"
	"github.com/archdbg/archdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.ArchdbgVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
