package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillnet/vl1/config"
	"github.com/quillnet/vl1/identity"
)

var identityCmd = &cobra.Command{
	Use:     "identity",
	Short:   "Manage this node's cryptographic identity",
	GroupID: "init",
}

var identityGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new identity and write it to the identity config path",
	Run: func(cmd *cobra.Command, args []string) {
		useP384, _ := cmd.Flags().GetBool("p384")
		kind := identity.KindCurve25519
		if useP384 {
			kind = identity.KindP384
		}

		id, err := identity.Generate(kind)
		if err != nil {
			fmt.Println("generate:", err)
			return
		}

		secret, err := id.MarshalSecret()
		if err != nil {
			fmt.Println("marshal secret:", err)
			return
		}

		cfg := &config.NodeConfig{Secret: secret, LogLevel: "info"}
		if err := config.SaveNodeConfig(nodeConfigPath, cfg); err != nil {
			fmt.Println("save:", err)
			return
		}

		pub, _ := id.MarshalText()
		fmt.Printf("Address: %s\n", id.Address())
		fmt.Printf("Public key: %s\n", pub)
		fmt.Printf("Wrote identity to %s\n", nodeConfigPath)
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print this node's address and public key",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadNodeConfig(nodeConfigPath)
		if err != nil {
			fmt.Println("load:", err)
			return
		}
		id, err := config.ResolveIdentity(cfg)
		if err != nil {
			fmt.Println("resolve:", err)
			return
		}
		pub, _ := id.MarshalText()
		fmt.Printf("Address: %s\n", id.Address())
		fmt.Printf("Public key: %s\n", pub)
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityGenerateCmd)
	identityCmd.AddCommand(identityShowCmd)
	identityGenerateCmd.Flags().Bool("p384", false, "generate a combined Curve25519+P-384 identity")
}
