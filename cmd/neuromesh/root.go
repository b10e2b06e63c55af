package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "neuromesh",
	Short: "Distributed neural mesh node",
	Long: `A mesh node that exchanges learning gradients with its peers and agrees
on shared decisions through quorum voting. Peers, transport, and protocol
behavior come from a YAML configuration file.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
