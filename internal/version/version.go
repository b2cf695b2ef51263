// Package version holds build information injected through -ldflags.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the semantic version of the build, e.g. "v1.4.0".
var (
	Version   = "v0.0.0-dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Canonical returns Version with a leading "v", or "v0.0.0-dev" when Version is not a semantic version.
func Canonical() string {
	v := strings.TrimSpace(Version)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "v0.0.0-dev"
	}
	return v
}

// Compatible reports whether two versions share the same major version.
// Development builds (v0) are compatible with each other only.
func Compatible(a, b string) bool {
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return false
	}
	return semver.Major(a) == semver.Major(b)
}

// Full returns the version with commit and build time for log output.
func Full() string {
	return Canonical() + " (" + Commit + ", " + BuildTime + ")"
}
