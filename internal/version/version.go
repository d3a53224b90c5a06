// Package version carries build metadata stamped in by the release pipeline
// via -ldflags.
package version

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = "unknown"
	// BuildDate records when the binary was produced.
	BuildDate = "unknown"
)
