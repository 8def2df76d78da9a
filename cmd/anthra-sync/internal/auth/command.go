package auth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TernFolbaek/anthra-sync/pkg/auth"
	"github.com/TernFolbaek/anthra-sync/pkg/config"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored session credential",
	}

	cmd.AddCommand(newLoginCommand(), newStatusCommand(), newLogoutCommand())
	return cmd
}

func newLoginCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a session token pasted from the web app",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cred, err := auth.LoginPasteToken(userID, os.Stdin)
			if err != nil {
				return err
			}
			if err := auth.SaveCredential(config.ConfigDir(), cred); err != nil {
				return fmt.Errorf("saving credential: %w", err)
			}
			fmt.Println("Credential stored.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id the token belongs to")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a credential is stored",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cred, err := auth.LoadCredential(config.ConfigDir())
			if err != nil {
				return err
			}
			fmt.Printf("Credential stored (method: %s, created: %s)\n",
				cred.AuthMethod, cred.CreatedAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := filepath.Join(config.ConfigDir(), "credential.json")
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			fmt.Println("Credential removed.")
			return nil
		},
	}
}
