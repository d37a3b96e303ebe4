// Package version holds the build-time version metadata, populated via
// -ldflags at link time (GitCommit, GitDescribe) with compile-time
// defaults for local/dev builds.
package version

import "fmt"

var (
	// GitCommit is the short commit SHA this binary was built from, set
	// via -ldflags; empty for a dev build.
	GitCommit string
	// GitDescribe is `git describe --tags`'s output, set via -ldflags;
	// empty for a dev build.
	GitDescribe string

	// Version is the base semantic version.
	Version = "0.1.0"
	// VersionPrerelease marks this as a prerelease build; cleared for a
	// tagged release build.
	VersionPrerelease = "dev"
)

// GetHumanVersion assembles the human-readable version string a
// "version" command or startup log line prints.
func GetHumanVersion() string {
	version := Version
	release := VersionPrerelease

	if GitDescribe != "" {
		version = GitDescribe
	}
	if GitDescribe == "" && release == "" {
		release = "dev"
	}
	if release != "" {
		suffix := "-" + release
		if len(version) < len(suffix) || version[len(version)-len(suffix):] != suffix {
			version += fmt.Sprintf("-%s", release)
		}
	}

	if GitCommit != "" {
		version += fmt.Sprintf(" (%s)", GitCommit)
	}

	return version
}
