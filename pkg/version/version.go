// Package version carries the kernel's build identity, surfaced by
// kernelctl status and the gRPC health path.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the kernel's semantic version, overridable at link time
	// with -ldflags "-X github.com/agentgovernor/kernel/pkg/version.Version=...".
	Version = "0.1.0"

	// GitCommit is the git commit hash the binary was built from.
	GitCommit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"

	// GoVersion is the toolchain used to build.
	GoVersion = runtime.Version()

	// Platform is the OS/Arch combination.
	Platform = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
)

// Info is the serialisable view of the package-level build variables.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the current build's Info.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
}

// String renders a multi-line human-readable report.
func (i Info) String() string {
	return fmt.Sprintf("agentgovernor kernel %s\n"+
		"  Git commit: %s\n"+
		"  Build date: %s\n"+
		"  Go version: %s\n"+
		"  Platform:   %s",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}
