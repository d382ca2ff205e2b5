// Command spectre runs the incremental materialized view engine as a
// daemon, plus a couple of operational utilities.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/spectre"
)

var rootCmd = &cobra.Command{
	Use:           "spectre",
	Short:         "Incremental materialized view engine",
	Long:          "spectre maintains registered relational views incrementally over ingested records and emits minimal per-view change events.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the spectre version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spectre %s\n", spectre.Version)
	},
}

func main() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spectre: %v\n", err)
		os.Exit(1)
	}
}
