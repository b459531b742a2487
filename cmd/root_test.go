package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"jwtauth/pkg/oauth"
)

func TestSetVersion(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	SetVersion("1.2.3-test")

	if GetVersion() != "1.2.3-test" {
		t.Errorf("Expected version to be 1.2.3-test, got %s", GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "jwtauth" {
		t.Errorf("Expected Use to be 'jwtauth', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" || rootCmd.Long == "" {
		t.Error("Expected Short and Long descriptions to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}

	for _, expected := range []string{"version", "self-update", "login", "logout", "refresh", "status", "get", "proxy"} {
		if !found[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()
	rootCmd.Version = "1.0.0"
	rootCmd.SetVersionTemplate(`{{printf "jwtauth version %s\n" .Version}}`)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"--version"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Error executing --version: %v", err)
	}

	if buf.String() != "jwtauth version 1.0.0\n" {
		t.Errorf("Expected version output %q, got %q", "jwtauth version 1.0.0\n", buf.String())
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitCodeSuccess},
		{name: "generic error", err: errors.New("boom"), want: ExitCodeError},
		{name: "logged out", err: oauth.ErrLoggedOut, want: ExitCodeAuthRequired},
		{name: "wrapped refresh token expired", err: fmt.Errorf("get: %w", oauth.ErrRefreshTokenExpired), want: ExitCodeAuthRequired},
		{name: "backend error", err: fmt.Errorf("login failed: %w", &oauth.BackendError{StatusCode: 401, Message: "invalid credentials"}), want: ExitCodeAuthFailed},
		{name: "transient refresh error", err: &oauth.TransientRefreshError{Err: errors.New("connection reset")}, want: ExitCodeAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSplitHeader(t *testing.T) {
	tests := []struct {
		in        string
		wantName  string
		wantValue string
		wantErr   bool
	}{
		{in: "Accept: application/json", wantName: "Accept", wantValue: "application/json"},
		{in: "X-Empty:", wantName: "X-Empty", wantValue: ""},
		{in: "X-Trace:  a:b ", wantName: "X-Trace", wantValue: "a:b"},
		{in: "no-colon", wantErr: true},
		{in: ": value", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, value, err := splitHeader(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.wantName || value != tt.wantValue {
				t.Errorf("splitHeader(%q) = %q, %q; want %q, %q", tt.in, name, value, tt.wantName, tt.wantValue)
			}
		})
	}
}
