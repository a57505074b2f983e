// Package version provides build version information for the binary,
// set by ldflags at build time.
package version

// Version is the build version string, e.g. "v1.2.3" or "v1.2.3-dev".
var Version = "dev"

// BuildTime is the build timestamp.
var BuildTime = "unknown"
