package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vueni/strongbox/keyring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the security environment status",
	Long: `Checks every required key name against the minimum strength policy
and reports pass/fail per key. Key values are never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		ring := keyring.New(keyring.WithLogger(logger))
		ring.LogSecurityStatus()
		return ring.ValidateSecurityEnvironment()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
