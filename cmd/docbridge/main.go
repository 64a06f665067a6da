// Command docbridge runs the document bridge between an OnlyOffice-style
// document server and an S3-compatible object store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docbridge",
		Short: "Document bridge between an editor server and object storage",
		Long: `docbridge stores uploaded office documents in an S3-compatible bucket,
hands the document server presigned URLs to open them, and writes edited
documents back when the document server calls back with a save.

Examples:
  docbridge serve --config docbridge.yaml
  DOCBRIDGE_STORE_PROVIDER=memory docbridge serve
  docbridge sweep --older-than 6h`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newSweepCmd(&configPath))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the docbridge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return rootCmd
}
