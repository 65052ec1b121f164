// Package version exposes build and version metadata.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.3.1"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// DocumentFormatVersion is written into exported routing documents.
const DocumentFormatVersion = "1.1.0"

// DocumentFormatConstraint lists the document versions this build can import.
const DocumentFormatConstraint = ">= 1.0, < 2.0"

func GetVersion() string {
	return Version
}

func GetFullVersionInfo() string {
	return fmt.Sprintf("content-router %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, GoVersion)
}
