// Command linkstash is the offline-first bookmark manager daemon and
// CLI. Data lives in local storage (SQLite when available, a flat
// file otherwise) and syncs to a hosted row API in the background.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "linkstash",
	Short: "Offline-first bookmark manager with cloud sync",
	Long: `linkstash stores link bookmarks locally and syncs them to a hosted
backend in the background. Local writes never wait on the network:
every mutation lands in local storage immediately and a sync queue
carries it to the cloud when connectivity allows.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(categoryCmd)
	rootCmd.AddCommand(linkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
