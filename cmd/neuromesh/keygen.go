package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"neuromesh/internal/keys"
)

var keygenPrivate string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node identity",
	Long: `Generate a fresh node identity: a node id, an Ed25519 key pair, and the
libp2p peer id other nodes use in their peers section.

With --private, derive the public key and peer id from an existing key
instead of generating one.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenPrivate, "private", "", "Derive identity from this private key instead of generating one")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	keyManager := keys.NewKeyManager()

	privateKey := keygenPrivate
	if privateKey == "" {
		generated, err := keyManager.GeneratePrivateKey()
		if err != nil {
			return err
		}
		privateKey = generated
		fmt.Printf("Node ID:     %s\n", uuid.NewString())
		fmt.Printf("Private Key: %s\n", privateKey)
	}

	publicKey, err := keyManager.GetPublicKey(privateKey)
	if err != nil {
		return err
	}
	peerID, err := keys.PeerID(privateKey)
	if err != nil {
		return err
	}

	fmt.Printf("Public Key:  %s\n", publicKey)
	fmt.Printf("Peer ID:     %s\n", peerID)
	return nil
}
