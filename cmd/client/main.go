// Package main is the gophvault command-line client: a local encrypted
// credential vault that syncs with the record store and scans account
// labels against a breach-reputation service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "gophvault",
	Short: "gophvault - a local-first encrypted credential vault",
	Long: `gophvault keeps credentials encrypted on this machine, syncs them with
a gophvault server over mutual TLS, and checks account labels against a
breach-reputation service.

Run 'gophvault register --login you@example.com' once, then 'gophvault shell'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gophvault.toml", "path to config file")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
