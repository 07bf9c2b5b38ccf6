/*
Copyright © 2026 ソニーレベル <C7kali3@gmail.com>

*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sony-level/cmdproxy/internal/config"
)

var (
	// Connection flags
	natsURL string
	bucket  string

	// Global flags
	baseDir  string
	logLevel string
	verbose  bool
)

// rootCmd represents the base command - subcommands do the actual work
var rootCmd = &cobra.Command{
	Use:   "cmdproxy",
	Short: "Run commands on remote workers with blob-store file staging",
	Long: `cmdproxy runs commands on remote workers. A client submits a command
whose arguments may reference remote files by name; a worker fetches
the referenced inputs from the blob store into a private workspace,
runs the command there, and pushes the declared outputs back.

Requests travel over NATS subjects named after the command, so a
worker subscribes only to the commands it can serve and the broker
load-balances requests across workers on the same queue.

Examples:
  cmdproxy serve --queues sh,gcc --pool 8
  cmdproxy submit --stdout run.out -- sh -c 'cat <#:i>a.txt</> > <#:o>b.txt</>'
  cmdproxy clean --older-than 24h`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the log-level flag; --verbose
// forces debug
func newLogger() *slog.Logger {
	c := config.Config{LogLevel: logLevel}
	if verbose {
		c.LogLevel = "debug"
	}
	return c.NewLogger(os.Stderr)
}

// workspaceBase returns the effective workspace base directory
func workspaceBase() string {
	if baseDir != "" {
		return baseDir
	}
	return os.TempDir()
}

func init() {
	// Persistent flags - available to all subcommands. Defaults come
	// from the environment, so precedence is flag > env > built-in.
	defaults := config.FromEnv()
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", defaults.NatsURL, "NATS server URL (env: CMDPROXY_NATS_URL)")
	rootCmd.PersistentFlags().StringVar(&bucket, "bucket", defaults.Bucket, "Object store bucket for staged files (env: CMDPROXY_BUCKET)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", defaults.BaseDir, "Base directory for run workspaces (env: CMDPROXY_BASE_DIR, default: system temp)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaults.LogLevel, "Log level: debug, info, warn, error (env: CMDPROXY_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}
