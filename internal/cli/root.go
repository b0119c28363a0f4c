// Package cli implements the pixwatch command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pixwatch/pixwatch/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "pixwatch",
	Short: "pixwatch: P2P node discovery and health scoring",
	Long: `pixwatch crawls a cryptocurrency peer-to-peer network on a fixed
cadence, classifies every reachable node, and maintains a scored,
ranked registry that backs the network dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	daemon.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
