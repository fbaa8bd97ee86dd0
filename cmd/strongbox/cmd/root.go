package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the CLI version, overridden at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "strongbox",
	Short: "Strongbox is the Vueni secure session and storage service",
	Long: `Strongbox provides encrypted key-value storage, session lifecycle
management with inactivity expiry, CSRF token issuance, and audit event
emission for the Vueni personal-finance dashboard.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
