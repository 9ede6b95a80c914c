// Command circulationctl runs circulation maintenance by hand: one-off
// sweeps, queue inspection, schema migration and dev token minting.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "circulationctl",
	Short:         "Operate the library circulation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(sweepCmd(), queueCmd(), tokenCmd(), migrateCmd())
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("circulationctl: %v", err)
	}
}
