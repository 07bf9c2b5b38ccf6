// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Cleanup functionality

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Release removes the workspace directory unless keep is set.
// Returns nil if keep is set or removal succeeds.
func (w *Workspace) Release() error {
	if w.keep {
		return nil
	}

	if !w.Exists() {
		return nil
	}

	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("failed to release workspace %s: %w", w.Path, err)
	}

	// Try to remove the parent .cmdproxy directory if it's empty
	tempDir := filepath.Join(w.BaseDir, TempDirPrefix)
	_ = os.Remove(tempDir) // Ignore error - directory might not be empty

	return nil
}

// ReleaseAll removes all workspace directories in the base directory.
// Use with caution - this removes every .cmdproxy/* root, including
// ones a live worker may still own.
func ReleaseAll(baseDir string) error {
	tempDir := filepath.Join(baseDir, TempDirPrefix)

	info, err := os.Stat(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat temp directory %s: %w", tempDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", tempDir)
	}

	if err := os.RemoveAll(tempDir); err != nil {
		return fmt.Errorf("failed to release all workspaces: %w", err)
	}

	return nil
}

// ReleaseStale removes workspaces older than maxAge, judged by
// directory modification time. Useful for sweeping roots abandoned by
// crashed workers.
func ReleaseStale(baseDir string, maxAge time.Duration) (int, error) {
	tempDir := filepath.Join(baseDir, TempDirPrefix)

	info, err := os.Stat(tempDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat temp directory %s: %w", tempDir, err)
	}
	if !info.IsDir() {
		return 0, nil
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read temp directory: %w", err)
	}

	now := time.Now()
	released := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		entryInfo, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(entryInfo.ModTime()) >= maxAge {
			wsPath := filepath.Join(tempDir, entry.Name())
			if err := os.RemoveAll(wsPath); err == nil {
				released++
			}
		}
	}

	// Try to remove the parent directory if empty
	_ = os.Remove(tempDir)

	return released, nil
}
