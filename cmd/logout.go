package cmd

import (
	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		Long: `Removes the stored credential. Every process sharing the store is
logged out as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			wasLoggedIn := svc.IsLoggedIn()
			if err := svc.Logout(cmd.Context()); err != nil {
				return err
			}

			if wasLoggedIn {
				printf(cmd, "Logged out\n")
			} else {
				printf(cmd, "Not logged in\n")
			}
			return nil
		},
	}
}
