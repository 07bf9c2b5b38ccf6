// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// workspace types/constants

package workspace

const (
	// TempDirPrefix is the parent directory under BaseDir holding all
	// run roots, so housekeeping can sweep them in one place
	TempDirPrefix = ".cmdproxy"
	// RunIDPrefix tags every run identifier
	RunIDPrefix = "cp"
)

// Workspace is the isolated scratch root owned by a single run. Every
// planned local path resolves to a location under Path; releasing the
// workspace removes Path and everything beneath it.
type Workspace struct {
	RunID   string
	Path    string
	BaseDir string
	keep    bool
}

// Config holds workspace creation settings
type Config struct {
	BaseDir string // defaults to the system temp directory
	Keep    bool   // preserve the root on release, for debugging
}
