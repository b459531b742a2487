package cmd

import (
	"fmt"
	"io"
	"net/http"

	"jwtauth/pkg/oauth"

	"github.com/spf13/cobra"
)

var getHeaders []string

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Send an authorized GET request",
		Long: `Sends a GET request carrying the stored access token and prints the
response body. A 401 answer triggers one coordinated refresh and a retry.`,
		Example: `  jwtauth get https://api.example.com/v1/me
  jwtauth get -H "Accept: application/json" https://api.example.com/v1/items`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}
	cmd.Flags().StringArrayVarP(&getHeaders, "header", "H", nil, `Extra request header ("Name: value"), may be repeated`)
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	svc, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !svc.CanActivate(cmd.Context()) {
		return oauth.ErrLoggedOut
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, args[0], nil)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	for _, h := range getHeaders {
		name, value, err := splitHeader(h)
		if err != nil {
			return err
		}
		req.Header.Add(name, value)
	}

	resp, err := svc.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && !svc.IsLoggedIn():
		return oauth.ErrRefreshTokenExpired
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s returned %s", req.URL.Redacted(), resp.Status)
	}
	return nil
}
