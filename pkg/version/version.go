package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of archdbg.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// ArchdbgVersion is the current version of archdbg.
var ArchdbgVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

var buildInfo = func() string {
	return ""
}

// BuildInfo returns the Go version and the modules archdbg was built with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}

// fixBuild replaces an unexpanded ident with the VCS revision recorded by
// the go command.
func fixBuild(v *Version) {
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			if len(v.Build) > 12 {
				v.Build = v.Build[:12]
			}
			return
		}
	}
}
