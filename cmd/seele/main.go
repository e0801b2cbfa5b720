// Package main provides the entry point for the seele judge binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Candlest/seele/cmd/seele/commands"
	"github.com/Candlest/seele/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "seele",
		Short: "Seele Judge - isolated program execution and judging service",
		Long: `Seele runs user-submitted programs inside cgroup-isolated, overlayfs-backed
containers and reports structured verdicts.

Commands:
  serve     Run the HTTP ingress, composer, and worker pool
  eviction  Inspect persisted eviction manager state`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewEvictionCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "seele %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
