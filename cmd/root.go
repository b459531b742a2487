package cmd

import (
	"errors"
	"fmt"
	"os"

	"jwtauth/internal/config"
	"jwtauth/pkg/logging"
	"jwtauth/pkg/oauth"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no usable session and a login is needed.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the token or refresh endpoint rejected the request.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	tokenURL   string
	refreshURL string
	logLevel   string
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "jwtauth",
	Short: "Manage a shared bearer token session",
	Long: `jwtauth logs in against a JWT token endpoint, keeps the issued credential
in a store shared by every process on the machine (or cluster), and refreshes it
at most once at a time no matter how many processes notice it expired.

Requests sent through "jwtauth get" or "jwtauth proxy" carry the access token
and are retried once after a refresh when the server rejects it.`,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code describing the failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "jwtauth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps session errors to exit codes for scripting.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	if errors.Is(err, oauth.ErrLoggedOut) || errors.Is(err, oauth.ErrRefreshTokenExpired) {
		return ExitCodeAuthRequired
	}

	var backendErr *oauth.BackendError
	if errors.As(err, &backendErr) {
		return ExitCodeAuthFailed
	}

	var transientErr *oauth.TransientRefreshError
	if errors.As(err, &transientErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&tokenURL, "token-url", "", "Token endpoint (overrides tokenUrl)")
	rootCmd.PersistentFlags().StringVar(&refreshURL, "refresh-url", "", "Refresh endpoint (overrides refreshUrl)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log verbosity: verbose, info, warn, error or silent (overrides logVerbosity)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newProxyCmd())
}

// initLogging sets up the package logger before any command touches the
// configuration. The config file's logVerbosity is applied later, once the
// file is loaded, unless --log-level was given.
func initLogging(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseVerbosity(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	if logLevel == "" {
		level = logging.LevelWarn
	}
	logging.Init(level, cmd.ErrOrStderr())
	return nil
}
