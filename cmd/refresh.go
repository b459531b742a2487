package cmd

import (
	"context"

	"jwtauth/pkg/oauth"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the stored credential now",
		Long: `Exchanges the refresh token for a new credential. When another process
is already refreshing, this waits for its result instead of sending a second
request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			var cred *oauth.Credential
			err = withSpinner(cmd, "Refreshing", func(ctx context.Context) error {
				var rerr error
				cred, rerr = svc.Refresh(ctx)
				return rerr
			})
			if err != nil {
				return err
			}

			printf(cmd, "Refreshed credential of %s (access token valid until %s)\n",
				cred.Subject, cred.AccessExpiry.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
