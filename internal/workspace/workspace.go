// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Main workspace logic

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a fresh run identifier, unique across workers
func NewRunID() string {
	return RunIDPrefix + "-" + uuid.NewString()
}

// Acquire creates a fresh, request-unique scratch root. If config is
// nil the system temp directory is used as base. The caller owns the
// returned workspace and must Release it on every exit path.
func Acquire(config *Config) (*Workspace, error) {
	if config == nil {
		config = &Config{}
	}
	baseDir := config.BaseDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	runID := NewRunID()
	path := filepath.Join(baseDir, TempDirPrefix, runID)

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory %s: %w", path, err)
	}

	return &Workspace{
		RunID:   runID,
		Path:    path,
		BaseDir: baseDir,
		keep:    config.Keep,
	}, nil
}

// Resolve maps a plan-local path to its absolute location under the
// root. Locals that would escape the root are rejected; the planner
// validates aliases first, so this is a second fence.
func (w *Workspace) Resolve(local string) (string, error) {
	clean := filepath.Clean(local)
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("local path %q escapes workspace %s", local, w.RunID)
	}
	return filepath.Join(w.Path, clean), nil
}

// Prepare resolves a plan-local path and creates its parent directories
// so a transfer or the command itself can write the file
func (w *Workspace) Prepare(local string) (string, error) {
	path, err := w.Resolve(local)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != w.Path {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory for %s: %w", local, err)
		}
	}
	return path, nil
}

// ResolveCwd picks the working directory for the command. Nil means the
// workspace root, an absolute path is used as-is, and a relative path
// is created under the root.
func (w *Workspace) ResolveCwd(cwd *string) (string, error) {
	if cwd == nil || *cwd == "" {
		return w.Path, nil
	}
	if filepath.IsAbs(*cwd) {
		return *cwd, nil
	}
	path, err := w.Resolve(*cwd)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create working directory %s: %w", *cwd, err)
	}
	return path, nil
}

// Exists checks if the workspace directory exists
func (w *Workspace) Exists() bool {
	info, err := os.Stat(w.Path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// SetKeep sets whether to preserve the workspace on release
func (w *Workspace) SetKeep(keep bool) {
	w.keep = keep
}

// ShouldKeep returns whether the workspace should be preserved
func (w *Workspace) ShouldKeep() bool {
	return w.keep
}

// String returns a string representation of the workspace
func (w *Workspace) String() string {
	return fmt.Sprintf("Workspace{RunID: %s, Path: %s, Keep: %v}", w.RunID, w.Path, w.keep)
}
