package main

import (
	"context"
	"fmt"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"neuromesh/internal/config"
	"neuromesh/internal/keys"
	"neuromesh/internal/network"
	"neuromesh/internal/types"
)

var checkConfigPath string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that configured peers are reachable",
	Long: `Dial every peer in the configuration and report reachability. The command
exits non-zero when any peer cannot be reached.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkConfigPath, "config", "c", "neuromesh.yaml", "Path to the node configuration file")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(checkConfigPath)
	if err != nil {
		return err
	}
	if len(cfg.Peers) == 0 {
		fmt.Println("No peers configured.")
		return nil
	}

	privateKey, err := keys.Libp2pPrivateKey(cfg.Node.PrivateKey)
	if err != nil {
		return err
	}

	// An ephemeral port keeps the check from colliding with a running node.
	netCfg := cfg.Network
	netCfg.Addresses = []string{"/ip4/0.0.0.0/tcp/0"}
	host, err := network.NewHost(&netCfg, privateKey, zerolog.Nop())
	if err != nil {
		return err
	}
	defer host.Close()

	unreachable := 0
	for _, p := range cfg.Peers {
		if err := checkPeer(host, &p, time.Duration(cfg.Network.ConnectionTimeout)); err != nil {
			fmt.Printf("FAIL %s %s: %v\n", p.NodeID, p.Address, err)
			unreachable++
			continue
		}
		fmt.Printf("OK   %s %s\n", p.NodeID, p.Address)
	}

	if unreachable > 0 {
		return fmt.Errorf("%d of %d peers unreachable", unreachable, len(cfg.Peers))
	}
	fmt.Printf("All %d peers reachable.\n", len(cfg.Peers))
	return nil
}

func checkPeer(host *network.Host, p *types.PeerConfig, timeout time.Duration) error {
	maddr, err := multiaddr.NewMultiaddr(p.Address)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err = host.Connect(ctx, maddr)
	return err
}
