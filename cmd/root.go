// Package cmd implements the vl1node CLI: identity/root management
// and running a node against a minimal UDP host.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	nodeConfigPath  = "identity.yaml"
	rootsConfigPath = "roots.yaml"
)

var rootCmd = &cobra.Command{
	Use:   "vl1node",
	Short: "VL1 node CLI",
	Long: `vl1node manages a node's cryptographic identity and root server
list, and can run the node against a UDP socket.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Identity & Roots",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "run",
		Title: "Run",
	})
	rootCmd.PersistentFlags().StringVarP(&nodeConfigPath, "identity", "i", nodeConfigPath, "node identity config path")
	rootCmd.PersistentFlags().StringVarP(&rootsConfigPath, "roots", "r", rootsConfigPath, "root designation list path")
}
