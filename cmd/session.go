package cmd

import (
	"context"
	"fmt"
	"time"

	"jwtauth/internal/config"
	"jwtauth/internal/session"
	"jwtauth/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// loadConfig reads config.yaml from --config-path and applies the flag
// overrides. A CLI invocation is short-lived, so credentials always go to
// the shared backend.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}

	if logLevel == "" && cfg.LogVerbosity != "" {
		level, err := logging.ParseVerbosity(cfg.LogVerbosity)
		if err != nil {
			return config.Config{}, err
		}
		logging.Init(level, cmd.ErrOrStderr())
	}

	if tokenURL != "" {
		cfg.TokenURL = tokenURL
	}
	if refreshURL != "" {
		cfg.RefreshURL = refreshURL
	}
	cfg.StorageScope = config.StorageScopeShared

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openSession loads the configuration and builds a session from it.
// Startup validation is skipped when manual is set, so the stored
// credential is inspected as is.
func openSession(cmd *cobra.Command, manual bool) (*session.Service, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if manual {
		cfg.ManualInitialization = true
	}

	svc, err := session.New(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return svc, nil
}

// withSpinner runs fn while a spinner shows msg on stderr. The spinner is
// left out in quiet mode.
func withSpinner(cmd *cobra.Command, msg string, fn func(ctx context.Context) error) error {
	if quiet {
		return fn(cmd.Context())
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = cmd.ErrOrStderr()
	s.Suffix = " " + msg
	s.Start()

	err := fn(cmd.Context())
	if err != nil {
		s.FinalMSG = text.FgRed.Sprintf("%s failed\n", msg)
	}
	s.Stop()
	return err
}

// printf writes to the command's output unless --quiet is set.
func printf(cmd *cobra.Command, format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
