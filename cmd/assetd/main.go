// Package main provides the entry point for the asset validator daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/node"
)

func main() {
	root := &cobra.Command{
		Use:   "assetd",
		Short: "Byzantine fault tolerant asset validator node",
	}
	root.AddCommand(startCommand())
	root.AddCommand(keygenCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCommand() *cobra.Command {
	var (
		configPath  string
		nodeID      string
		privateKey  string
		listenAddr  string
		metricsAddr string
		storeDSN    string
		peers       []string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the validator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := node.DefaultConfig()
			if configPath != "" {
				loaded, err := node.LoadConfig(configPath)
				if err != nil {
					return err
				}
				config = loaded
			}
			if nodeID != "" {
				config.NodeID = nodeID
			}
			if privateKey != "" {
				config.PrivateKey = privateKey
			}
			if cmd.Flags().Changed("listen") {
				config.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("metrics") {
				config.MetricsAddr = metricsAddr
			}
			if storeDSN != "" {
				config.StoreDSN = storeDSN
			}
			if len(peers) > 0 {
				config.Peers = peers
			}

			n, err := node.NewNode(config)
			if err != nil {
				return err
			}
			if err := n.Start(context.Background()); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			log.Println("shutting down...")
			return n.Stop()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "unique node identifier")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "hex ed25519 private key")
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:26656", "committee channel listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "0.0.0.0:26660", "metrics HTTP address")
	cmd.Flags().StringVar(&storeDSN, "store-dsn", "", "postgres DSN, empty for in-memory storage")
	cmd.Flags().StringSliceVar(&peers, "peers", nil, "peer list, id@host:port entries")
	return cmd
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer := crypto.NewEd25519Signer()
			fmt.Printf("private_key: %x\n", signer.PrivateKeyBytes())
			fmt.Printf("public_key:  %s\n", signer.PublicKeyHex())
			fmt.Printf("address:     %s\n", signer.Address())
			return nil
		},
	}
}
