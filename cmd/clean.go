/*
Copyright © 2026 ソニーレベル <C7kali3@gmail.com>

*/
package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sony-level/cmdproxy/internal/workspace"
)

// defaultStaleAge is how old an abandoned workspace must be before the
// startup sweep and the default clean remove it
const defaultStaleAge = 24 * time.Hour

var (
	// Clean flags
	cleanAll  bool
	olderThan time.Duration
)

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover run workspaces",
	Long: `clean sweeps run workspaces under the base directory's .cmdproxy root.
Workspaces can outlive their run after a worker crash or a --keep
serve; clean removes the stale ones by age, or everything with --all.

Examples:
  cmdproxy clean
  cmdproxy clean --older-than 1h
  cmdproxy clean --all --base-dir /var/lib/cmdproxy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeClean()
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Remove every workspace, including ones a live worker may own")
	cleanCmd.Flags().DurationVar(&olderThan, "older-than", defaultStaleAge, "Remove workspaces older than this")
}

func executeClean() error {
	dir := workspaceBase()

	if cleanAll {
		if err := workspace.ReleaseAll(dir); err != nil {
			return err
		}
		fmt.Printf("Removed all workspaces under %s\n", filepath.Join(dir, workspace.TempDirPrefix))
		return nil
	}

	released, err := workspace.ReleaseStale(dir, olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d stale workspace(s) older than %v\n", released, olderThan)
	return nil
}
