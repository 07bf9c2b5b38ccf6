/*
Copyright © 2026 ソニーレベル <C7kali3@gmail.com>

*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/sony-level/cmdproxy/cmd.Version=..."
var Version = "dev"

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cmdproxy version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cmdproxy version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
