package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vueni/strongbox/keyring"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate fresh encryption key material",
	Long: fmt.Sprintf(`Generates random key material suitable for %s.
The output is 44 characters of base64, comfortably above the %d-character
minimum the key validator enforces.`, keyring.EnvEncryptionKey, keyring.MinKeyLength),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generating key material: %w", err)
		}
		fmt.Printf("%s=%s\n", keyring.EnvEncryptionKey, base64.StdEncoding.EncodeToString(raw))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
