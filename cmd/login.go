package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"jwtauth/pkg/oauth"

	"github.com/spf13/cobra"
)

var (
	loginUsername    string
	loginPassword    string
	loginRequestFile string
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a credential from the token endpoint",
		Long: `Sends a login request to the token endpoint and stores the issued
credential in the shared store, where every other process using the same
configuration picks it up.

The request body is {"username", "password"} unless --request-file names
a JSON document to send instead. A password of "-" is read from stdin.`,
		Example: `  jwtauth login --username alice --password -
  jwtauth login --request-file login.json`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username to log in with")
	cmd.Flags().StringVarP(&loginPassword, "password", "p", "", `Password to log in with ("-" reads it from stdin)`)
	cmd.Flags().StringVar(&loginRequestFile, "request-file", "", "JSON file sent as the login request")
	cmd.MarkFlagsMutuallyExclusive("username", "request-file")
	cmd.MarkFlagsMutuallyExclusive("password", "request-file")

	return cmd
}

func runLogin(cmd *cobra.Command, args []string) error {
	request, err := loginRequest(cmd)
	if err != nil {
		return err
	}

	svc, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	var cred *oauth.Credential
	err = withSpinner(cmd, "Logging in", func(ctx context.Context) error {
		var lerr error
		cred, lerr = svc.Login(ctx, request)
		return lerr
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	printf(cmd, "Logged in as %s (access token valid until %s)\n",
		cred.Subject, cred.AccessExpiry.Local().Format("2006-01-02 15:04:05"))
	return nil
}

// loginRequest builds the body sent to the token endpoint.
func loginRequest(cmd *cobra.Command) (interface{}, error) {
	if loginRequestFile != "" {
		data, err := os.ReadFile(loginRequestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read login request: %w", err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("login request %s is not valid JSON", loginRequestFile)
		}
		return json.RawMessage(data), nil
	}

	if loginUsername == "" {
		return nil, fmt.Errorf("--username or --request-file is required")
	}

	password := loginPassword
	if password == "-" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("failed to read password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	return map[string]string{
		"username": loginUsername,
		"password": password,
	}, nil
}
