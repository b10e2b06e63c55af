package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"neuromesh/internal/config"
	"neuromesh/internal/logger"
	"neuromesh/internal/node"
)

var configPath string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a mesh node",
	Long: `Start a mesh node from a configuration file.

The file is created with defaults on first start, including a generated
node id and Ed25519 private key. Examples:

  # Start with the default config file
  neuromesh start

  # Start with an explicit config file
  neuromesh start --config /etc/neuromesh/node.yaml`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&configPath, "config", "c", "neuromesh.yaml", "Path to the node configuration file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	n, err := node.New(cfg, log)
	if err != nil {
		return err
	}
	if err := n.Start(context.Background()); err != nil {
		n.Stop()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("shutting down")
	if err := n.Stop(); err != nil {
		log.Error().Err(err).Msg("shutdown finished with errors")
	}
	return nil
}
