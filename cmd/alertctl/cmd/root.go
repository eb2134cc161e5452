// Package cmd contains the CLI commands for alertctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	verbose   bool
	output    string
	serverURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "alertctl",
	Short: "alertctl - BlazeAlert command line client",
	Long: `alertctl validates alert rule files and talks to a running
BlazeAlert server.

Examples:
  # Check a rules file before deploying it
  alertctl rules validate rules.yaml

  # Send a test error event
  alertctl events send --owner owner-1 --type 404 --path /missing

  # Show unread notifications
  alertctl notifications list --owner owner-1 --unread`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("BLAZEALERT_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultURL, "BlazeAlert server URL (env BLAZEALERT_URL)")
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
