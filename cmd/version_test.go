package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewVersionCmd(t *testing.T) {
	versionCmd := newVersionCmd()

	if versionCmd.Use != "version" {
		t.Errorf("Expected Use to be 'version', got %s", versionCmd.Use)
	}

	if versionCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if versionCmd.Run == nil {
		t.Error("Expected Run function to be set")
	}
}

func TestVersionCommandExecution(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()
	rootCmd.Version = "1.2.3-test"

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(buf.String(), "jwtauth version 1.2.3-test") {
		t.Errorf("Expected output to contain the version, got %q", buf.String())
	}
}

func TestRunSelfUpdateWithDevVersion(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	for _, v := range []string{"dev", ""} {
		rootCmd.Version = v

		err := runSelfUpdate(nil, nil)
		if err == nil {
			t.Fatalf("Expected error for version %q", v)
		}
		if !strings.Contains(err.Error(), "cannot self-update a development version") {
			t.Errorf("Expected specific error message, got: %s", err.Error())
		}
	}
}

func TestRunSelfUpdateWithoutReleaseRepository(t *testing.T) {
	originalVersion, originalSlug := rootCmd.Version, githubRepoSlug
	defer func() { rootCmd.Version, githubRepoSlug = originalVersion, originalSlug }()

	rootCmd.Version = "1.0.0"
	githubRepoSlug = ""

	err := runSelfUpdate(nil, nil)
	if err == nil {
		t.Fatal("Expected error when no release repository is set")
	}
	if !strings.Contains(err.Error(), "does not name a release repository") {
		t.Errorf("Expected specific error message, got: %s", err.Error())
	}
}
