// Package cli implements the troupe command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "troupe",
	Short: "troupe — distributed actor placement and messaging",
	Long: `troupe runs a set of actor nodes that place actors by capability and
load, route checksummed messages between them, migrate actors across nodes
and fan tasks out to capable actors.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:7420", "Address of a running troupe server")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
