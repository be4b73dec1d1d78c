// Package version exposes build-time version information.
package version

import "fmt"

// Set via -ldflags at build time:
//
//	-X github.com/HerbHall/fleetwarden/internal/version.Version=0.2.0
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns just the version string.
func Short() string {
	return Version
}

// Info returns a human-readable version line.
func Info() string {
	return fmt.Sprintf("fleetwarden %s (commit %s, built %s)", Version, Commit, Date)
}

// Map returns the version fields for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}
