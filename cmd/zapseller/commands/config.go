package commands

import (
	"fmt"
	"os"

	"github.com/jholhewres/zapseller/pkg/zapseller/seller"
	"github.com/spf13/cobra"
)

// newConfigCmd groups the credential management subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and credentials",
	}

	cmd.AddCommand(
		newSetKeyCmd(),
		newDeleteKeyCmd(),
	)

	return cmd
}

// newSetKeyCmd stores the LLM API key in the OS keyring.
func newSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := seller.ReadPassword("API key: ")
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("empty API key")
			}
			if err := seller.StoreKeyring("api_key", key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}
}

// newDeleteKeyCmd removes the stored API key from the OS keyring.
func newDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the LLM API key from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := seller.DeleteKeyring("api_key"); err != nil {
				return fmt.Errorf("deleting key: %w", err)
			}
			fmt.Println("API key removed from the OS keyring.")
			return nil
		},
	}
}

// newLogoutCmd removes the persisted WhatsApp session so the next `serve`
// starts a fresh QR pairing.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the persisted WhatsApp session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			dbPath := cfg.WhatsApp.DatabasePath
			if dbPath == "" {
				dbPath = cfg.WhatsApp.SessionDir + "/whatsapp.db"
			}
			if err := os.Remove(dbPath); err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No session found.")
					return nil
				}
				return fmt.Errorf("removing session database: %w", err)
			}
			fmt.Println("Session removed. Run `zapseller serve` to pair again.")
			return nil
		},
	}
}
