// Package relevantchunks exposes version information for the relevant-chunks
// library. The functionality lives in the chunker and scorer packages.
package relevantchunks

// Version is the semantic version of the library
const Version = "0.1.0"

// VersionInfo holds version metadata for logging and compatibility checks
type VersionInfo struct {
	Version string // Semantic version string
	Name    string // Library name
}

// GetVersion returns structured version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Name:    "relevant-chunks",
	}
}
