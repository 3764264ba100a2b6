// Command cartvaultd is both the download daemon (serve) and a thin
// CLI client for its Control API, built as a spf13/cobra command tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cartvaultVersion = "dev"

var controlAddr string

var rootCmd = &cobra.Command{
	Use:     "cartvaultd",
	Short:   "cartvaultd runs and controls a concurrent download engine",
	Version: cartvaultVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&controlAddr, "addr", "http://127.0.0.1:7887", "Control API base URL")
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(addBatchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(confirmOverwriteCmd)
	rootCmd.AddCommand(pauseAllCmd)
	rootCmd.AddCommand(resumeAllCmd)
	rootCmd.AddCommand(cancelAllCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
