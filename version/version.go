// Package version provides build-time version information for sockpool.
//
// Version is set at build time using ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/sockpool/version.Version=1.0.0"
//
// For development builds, the default "dev" version is used.
package version

import (
	"runtime"
	"runtime/debug"
)

// Version is the software version, set at build time via ldflags.
// Example: go build -ldflags "-X github.com/go-i2p/sockpool/version.Version=1.0.0"
var Version = "dev"

// GitCommit is the git commit hash, set at build time via ldflags.
// Example: go build -ldflags "-X github.com/go-i2p/sockpool/version.GitCommit=$(git rev-parse --short HEAD)"
var GitCommit = ""

// BuildTime is when the binary was built, set at build time via ldflags.
// Example: go build -ldflags "-X github.com/go-i2p/sockpool/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = ""

// Full returns the full version string including commit and build time if available.
func Full() string {
	v := Version
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// Commit returns GitCommit, falling back to the VCS revision the Go
// toolchain stamped into the binary.
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}

// LogAttrs returns version details as slog key/value pairs.
func LogAttrs() []any {
	attrs := []any{"version", Version, "go", runtime.Version()}
	if c := Commit(); c != "" {
		attrs = append(attrs, "commit", c)
	}
	if BuildTime != "" {
		attrs = append(attrs, "built", BuildTime)
	}
	return attrs
}
