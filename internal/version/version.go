// Package version provides build-time version information for pandactl.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/pandactl/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/pandactl/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/pandactl/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Binaries installed with `go install` carry no ldflags; for those the module
// version and VCS revision recorded by the toolchain are used instead.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "pandactl"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	return info
}

// fillFromBuildInfo replaces unset ldflags values with toolchain metadata.
func fillFromBuildInfo(info *Info, bi *debug.BuildInfo) {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		}
	}
}

// String returns a human-readable version string.
func (i Info) String() string {
	if len(i.Commit) >= 8 && i.Commit != "unknown" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, i.Version, i.Commit[:8], i.Date, i.GoVersion, i.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, i.Version, i.GoVersion, i.Platform)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	return GetInfo().Version
}

// UserAgent returns a User-Agent string for API requests.
func UserAgent() string {
	info := GetInfo()
	return fmt.Sprintf("%s/%s (%s)", ApplicationName, info.Version, info.Platform)
}
