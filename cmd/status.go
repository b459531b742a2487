package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"jwtauth/internal/session"
	"jwtauth/pkg/oauth"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusOutput string

// sessionStatus is the machine readable form of "jwtauth status".
type sessionStatus struct {
	LoggedIn       bool       `json:"loggedIn"`
	Subject        string     `json:"subject,omitempty"`
	AccessExpiry   *time.Time `json:"accessExpiry,omitempty"`
	AccessExpired  bool       `json:"accessExpired"`
	RefreshExpiry  *time.Time `json:"refreshExpiry,omitempty"`
	RefreshExpired bool       `json:"refreshExpired"`
	RefreshState   string     `json:"refreshState"`
	TokenURL       string     `json:"tokenUrl,omitempty"`
	RefreshURL     string     `json:"refreshUrl,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential",
		Long: `Shows the subject and expiry times of the stored credential without
refreshing it. Exits with code 2 when there is no usable session.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
	cmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format: table or json")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	st := collectStatus(svc)

	switch statusOutput {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	case "table":
		renderStatus(cmd, st)
	default:
		return fmt.Errorf("unsupported output format %q", statusOutput)
	}

	switch {
	case !st.LoggedIn:
		return oauth.ErrLoggedOut
	case st.RefreshExpired:
		return oauth.ErrRefreshTokenExpired
	}
	return nil
}

func collectStatus(svc *session.Service) sessionStatus {
	st := sessionStatus{
		RefreshState: svc.State().String(),
		TokenURL:     svc.TokenURL(),
		RefreshURL:   svc.RefreshURL(),
	}

	cred := svc.Credential()
	if cred == nil {
		return st
	}

	st.LoggedIn = true
	st.Subject = cred.Subject
	st.AccessExpiry = &cred.AccessExpiry
	st.AccessExpired = svc.IsAccessExpired()
	if !cred.RefreshExpiry.IsZero() {
		st.RefreshExpiry = &cred.RefreshExpiry
	}
	st.RefreshExpired = svc.IsRefreshExpired()
	return st
}

func renderStatus(cmd *cobra.Command, st sessionStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})

	if !st.LoggedIn {
		t.AppendRow(table.Row{"Session", text.FgRed.Sprint("Not logged in")})
	} else {
		t.AppendRow(table.Row{"Session", text.FgGreen.Sprint("Logged in")})
		t.AppendRow(table.Row{"Subject", st.Subject})
		t.AppendRow(table.Row{"Access token", formatExpiry(st.AccessExpiry, st.AccessExpired)})
		t.AppendRow(table.Row{"Refresh token", formatExpiry(st.RefreshExpiry, st.RefreshExpired)})
	}
	t.AppendRow(table.Row{"Refresh", st.RefreshState})
	if st.TokenURL != "" {
		t.AppendRow(table.Row{"Token URL", st.TokenURL})
	}
	if st.RefreshURL != "" {
		t.AppendRow(table.Row{"Refresh URL", st.RefreshURL})
	}

	t.Render()
}

func formatExpiry(at *time.Time, expired bool) string {
	if at == nil {
		return text.FgYellow.Sprint("unknown")
	}
	stamp := at.Local().Format("2006-01-02 15:04:05")
	if expired {
		return text.FgRed.Sprintf("expired (%s)", stamp)
	}
	return text.FgGreen.Sprintf("valid until %s (%s)", stamp, time.Until(*at).Round(time.Second))
}
