package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnet/vl1/config"
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/wire"
)

var rootsCmd = &cobra.Command{
	Use:     "roots",
	Short:   "Manage the root designation list",
	GroupID: "init",
}

var rootsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured roots",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadRootsConfig(rootsConfigPath)
		if err != nil {
			fmt.Println("load:", err)
			return
		}
		if len(cfg.Roots) == 0 {
			fmt.Println("no roots configured")
			return
		}
		for _, r := range cfg.Roots {
			id, err := identity.ParseText(r.PublicKey)
			if err != nil {
				fmt.Printf("  <invalid public key: %v>\n", err)
				continue
			}
			fmt.Printf("  %s  (%d endpoints)\n", id.Address(), len(r.Locator.Endpoints))
		}
	},
}

var rootsAddCmd = &cobra.Command{
	Use:   "add [public-key-base64] [locator-base64]",
	Short: "Add a root by its public key and signed locator",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 2 {
			_ = cmd.Usage()
			return
		}
		id, err := identity.ParseText(args[0])
		if err != nil {
			fmt.Println("parse public key:", err)
			return
		}
		var loc wire.Locator
		if err := loc.UnmarshalText([]byte(args[1])); err != nil {
			fmt.Println("parse locator:", err)
			return
		}
		if !loc.Verify(id) {
			fmt.Println("locator signature does not match public key")
			return
		}

		cfg, err := config.LoadRootsConfig(rootsConfigPath)
		if err != nil {
			fmt.Println("load:", err)
			return
		}
		cfg.Roots = append(cfg.Roots, config.RootEntry{PublicKey: args[0], Locator: loc})
		if err := config.SaveRootsConfig(rootsConfigPath, cfg); err != nil {
			fmt.Println("save:", err)
			return
		}
		fmt.Printf("Added root %s\n", id.Address())
	},
}

var rootsSignLocatorCmd = &cobra.Command{
	Use:   "sign-locator [endpoint...]",
	Short: "Sign a locator for this node's own identity naming the given endpoints (host:port)",
	Run: func(cmd *cobra.Command, args []string) {
		nodeCfg, err := config.LoadNodeConfig(nodeConfigPath)
		if err != nil {
			fmt.Println("load identity:", err)
			return
		}
		id, err := config.ResolveIdentity(nodeCfg)
		if err != nil {
			fmt.Println("resolve identity:", err)
			return
		}

		endpoints := make([]wire.Endpoint, 0, len(args))
		for _, a := range args {
			ap, err := parseAddrPort(a)
			if err != nil {
				fmt.Println("parse endpoint:", err)
				return
			}
			endpoints = append(endpoints, wire.EndpointFromAddrPort(ap))
		}

		loc := &wire.Locator{
			Timestamp: time.Now().Unix(),
			Signer:    identity.FingerprintOf(id),
			Endpoints: endpoints,
		}
		if err := loc.Sign(id); err != nil {
			fmt.Println("sign:", err)
			return
		}

		pub, _ := id.MarshalText()
		locText, _ := loc.MarshalText()
		fmt.Printf("%s\n%s\n", pub, locText)
	},
}

func init() {
	rootCmd.AddCommand(rootsCmd)
	rootsCmd.AddCommand(rootsListCmd)
	rootsCmd.AddCommand(rootsAddCmd)
	rootsCmd.AddCommand(rootsSignLocatorCmd)
}
