package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slipway-ci/slipway/internal/signing"
)

// passphraseEnv names the environment variable holding the signing key
// passphrase. The passphrase is never taken as a flag so it cannot leak
// into shell history or process listings.
const passphraseEnv = "SLIPWAY_KEY_PASSPHRASE"

// NewKeysCommand creates the keys command group
func NewKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the artifact signing key",
		Long: `Manage the ed25519 key pair used to sign checksum manifests.

The key pair is stored encrypted at the configured signing_key_path
(default .slipway/keys/signing.key). The passphrase is read from the
` + passphraseEnv + ` environment variable.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newKeysGenerateCommand())
	cmd.AddCommand(newKeysShowCommand())

	return cmd
}

func newKeysGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and store a new signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFromFlags(cmd)
			if err != nil {
				return err
			}

			path := cfg.SigningKeyPath
			if cmd.Flags().Changed("out") {
				path, _ = cmd.Flags().GetString("out")
			}

			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("key file %s already exists (use --force to replace it)", path)
			}

			passphrase := os.Getenv(passphraseEnv)
			if passphrase == "" {
				return fmt.Errorf("passphrase not set: export %s", passphraseEnv)
			}

			keypair, err := signing.Generate()
			if err != nil {
				return err
			}
			if err := keypair.Save(path, passphrase); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote signing key to %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", signing.Fingerprint(keypair.Public))
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .slipway/config.yaml)")
	cmd.Flags().String("out", "", "Key file location (overrides signing_key_path)")
	cmd.Flags().Bool("force", false, "Replace an existing key file")

	return cmd
}

func newKeysShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the public half of the signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFromFlags(cmd)
			if err != nil {
				return err
			}

			path := cfg.SigningKeyPath
			if cmd.Flags().Changed("key") {
				path, _ = cmd.Flags().GetString("key")
			}

			passphrase := os.Getenv(passphraseEnv)
			if passphrase == "" {
				return fmt.Errorf("passphrase not set: export %s", passphraseEnv)
			}

			keypair, err := signing.Load(path, passphrase)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Public key:  %s\n", keypair.PublicBase64())
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", signing.Fingerprint(keypair.Public))
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .slipway/config.yaml)")
	cmd.Flags().String("key", "", "Key file location (overrides signing_key_path)")

	return cmd
}
