// Package version reports the build identity of the mandoc binaries.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build-time variables set by ldflags:
//
//	-X github.com/m2i-duo/mandoc-ocr-api/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version, commit and build date. Values not set by ldflags are
// filled from the embedded module build info when available.
func Info() (string, string, string) {
	return resolve(Version, GitCommit, BuildDate, debug.ReadBuildInfo)
}

// String formats Info on one line.
func String() string {
	v, commit, date := Info()
	return fmt.Sprintf("%s (commit %s, built %s)", v, commit, date)
}

func resolve(v, commit, date string, read func() (*debug.BuildInfo, bool)) (string, string, string) {
	info, ok := read()
	if !ok || info == nil {
		return v, commit, date
	}
	if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "unknown" && s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			if date == "unknown" && s.Value != "" {
				date = s.Value
			}
		}
	}
	return v, commit, date
}
